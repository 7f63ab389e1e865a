// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asyncstore

import (
	"github.com/ajroetker/asyncpipe/ir"
)

// storeLike is one of descStore, descReduce or descScatter.
type storeLike interface {
	node() *ir.IRNode
	desc() *ir.Value
	src() *ir.Value
	srcType() *ir.TensorType
	loc() ir.Location

	isStoreLike()
}

// storeOp holds what every store-like operation shares: operands are laid
// out as [desc, src, ...].
type storeOp struct {
	op *ir.IRNode
}

func (s storeOp) node() *ir.IRNode { return s.op }
func (s storeOp) desc() *ir.Value { return s.op.Operands[0] }
func (s storeOp) src() *ir.Value { return s.op.Operands[1] }
func (s storeOp) loc() ir.Location { return s.op.Loc }
func (s storeOp) isStoreLike() {}
func (s storeOp) srcType() *ir.TensorType {
	t, _ := s.src().Type.(*ir.TensorType)
	return t
}

// descStore writes src to the block of desc at indices.
type descStore struct{ storeOp }

func (s descStore) indices() []*ir.Value { return s.op.Operands[2:] }

// descReduce combines src into the block of desc at indices.
type descReduce struct{ storeOp }

func (s descReduce) kind() ir.ReduceKind { return s.op.ReduceKind }
func (s descReduce) indices() []*ir.Value { return s.op.Operands[2:] }

// descScatter writes the rows of src at per-row offsets.
type descScatter struct{ storeOp }

func (s descScatter) xOffsets() *ir.Value { return s.op.Operands[2] }
func (s descScatter) yOffset() *ir.Value { return s.op.Operands[3] }

// collectStores returns the store-like operations of loop's body in program
// order. Nested loops are not entered: their stores belong to them.
func collectStores(loop *ir.IRNode) []storeLike {
	var stores []storeLike
	ir.Walk(loop.Children, func(n *ir.IRNode) ir.WalkResult {
		switch n.Kind {
		case ir.OpKindLoop:
			return ir.WalkSkip
		case ir.OpKindDescriptorStore:
			stores = append(stores, descStore{storeOp{n}})
		case ir.OpKindDescriptorReduce:
			stores = append(stores, descReduce{storeOp{n}})
		case ir.OpKindDescriptorScatter:
			stores = append(stores, descScatter{storeOp{n}})
		}
		return ir.WalkAdvance
	})
	return stores
}
