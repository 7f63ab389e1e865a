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
	"slices"

	"github.com/ajroetker/asyncpipe/ir"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// allocKey identifies stores that can share a staging buffer.
type allocKey struct {
	shape string
	dtype dtypes.DType
}

func keyOf(ty *ir.TensorType) allocKey {
	return allocKey{shape: ty.ShapeKey(), dtype: ty.DType}
}

// stagingBuffer is a shared memory buffer reused by every store of one key.
type stagingBuffer struct {
	key allocKey
	ty  *ir.MemDescType

	// first is the store that created the buffer; the allocation takes its
	// location.
	first storeLike

	// value is the local_alloc result, set by materialize.
	value *ir.Value
}

// allocationPlan maps every collected store to its staging buffer.
type allocationPlan struct {
	// buffers in creation order.
	buffers []*stagingBuffer

	byKey   map[allocKey]*stagingBuffer
	byStore map[*ir.IRNode]*stagingBuffer
}

// planAllocations assigns a buffer to every store, creating one per distinct
// (shape, element type) key in collection order. The layout of a buffer is
// derived from the first store using it. Nothing is emitted, so a failing
// derivation leaves the function unchanged.
func planAllocations(t Target, stores []storeLike) (*allocationPlan, error) {
	plan := &allocationPlan{
		byKey:   make(map[allocKey]*stagingBuffer),
		byStore: make(map[*ir.IRNode]*stagingBuffer, len(stores)),
	}
	for _, s := range stores {
		ty := s.srcType()
		if ty == nil {
			return nil, errors.Errorf("%s at %s: source %s is not a tensor (%s)",
				s.node().Kind, s.loc(), s.src(), s.src().Type)
		}
		key := keyOf(ty)
		if buf, ok := plan.byKey[key]; ok {
			plan.byStore[s.node()] = buf
			continue
		}
		enc, err := t.EncodingFromDescriptor(s.node(), ty, s.desc())
		if err != nil {
			return nil, errors.WithMessagef(err, "shared layout for %s", ty)
		}
		buf := &stagingBuffer{
			key: key,
			ty: &ir.MemDescType{
				Shape:    slices.Clone(ty.Shape),
				DType:    ty.DType,
				Encoding: enc,
				Mutable:  true,
			},
			first: s,
		}
		plan.buffers = append(plan.buffers, buf)
		plan.byKey[key] = buf
		plan.byStore[s.node()] = buf
	}
	return plan, nil
}

// materialize emits the local_alloc of every buffer right before loop.
func (plan *allocationPlan) materialize(b *ir.Builder, loop *ir.IRNode) {
	b.SetInsertionPoint(loop)
	for _, buf := range plan.buffers {
		b.SetLoc(buf.first.loc())
		buf.value = b.Named("buf").LocalAlloc(buf.ty)
	}
}

func (plan *allocationPlan) bufferFor(s storeLike) *ir.Value {
	return plan.byStore[s.node()].value
}
