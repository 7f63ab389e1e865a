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

// Package descbuf multi-buffers tensor descriptors built inside a loop.
//
// A descriptor is written to global memory and read by the copy engine
// asynchronously, so a loop that rebuilds it every iteration must not
// overwrite the copy an in-flight transfer still reads. Each make_desc of the
// loop body is lowered onto a ring of maxStages descriptor slots in global
// scratch memory:
//
//	%ring = global_scratch_alloc {nbytes = maxStages*128, alignment = 128} : !ptr<i8>
//	for ... iter_args(..., %idx = %c0) {
//	  %off = compute "muli"(%idx, %c128) : i32
//	  %slot = addptr %ring, %off : !ptr<i8>
//	  tensormap_create %slot, %base[...], [...] : !desc<...>
//	  tensormap_fenceproxy_acquire %slot
//	  %desc = reinterpret_desc %slot : !desc<...>
//	  ...
//	  %inc = compute "addi"(%idx, %c1) : i32
//	  %in_range = compute "cmpi_slt"(%inc, %cN) : i1
//	  %next = compute "select"(%in_range, %inc, %c0) : i32
//	  yield ..., %next
//	}
package descbuf

import (
	"github.com/ajroetker/asyncpipe/ir"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// DescriptorBytes is the size of one descriptor in global memory.
	DescriptorBytes = 128

	// DescriptorAlignment is the alignment the copy engine requires.
	DescriptorAlignment = 128
)

// CoarseScheduler multi-buffers every descriptor built directly in a loop
// body, whether or not it feeds a pipelined operation.
type CoarseScheduler struct{}

// ringConstants are the loop-invariant values shared by every ring of a loop.
type ringConstants struct {
	zero, one, stages, stride *ir.Value
}

// MultiBufferDescriptors lowers the make_desc operations of loop's body onto
// rings of maxStages slots.
func (CoarseScheduler) MultiBufferDescriptors(fn *ir.IRFunction, loop *ir.IRNode, maxStages int) error {
	if loop == nil || loop.Kind != ir.OpKindLoop {
		return errors.Errorf("@%s: descriptor multi-buffering needs a loop, got %v", fn.Name, loop)
	}
	if maxStages < 2 {
		return errors.Errorf("@%s: loop at %s: multi-buffering needs at least 2 stages, got %d",
			fn.Name, loop.Loc, maxStages)
	}
	yield := loop.Terminator()
	if yield == nil {
		return errors.Errorf("@%s: loop at %s has no yield", fn.Name, loop.Loc)
	}

	var descs []*ir.IRNode
	for _, n := range loop.Children {
		if n.Kind == ir.OpKindMakeDescriptor {
			descs = append(descs, n)
		}
	}
	if len(descs) == 0 {
		return nil
	}

	b := ir.NewBuilder(fn)
	b.SetInsertionPoint(loop)
	b.SetLoc(loop.Loc)
	consts := ringConstants{
		zero:   b.Constant(0, ir.I32),
		one:    b.Constant(1, ir.I32),
		stages: b.Constant(int64(maxStages), ir.I32),
		stride: b.Constant(DescriptorBytes, ir.I32),
	}
	for _, md := range descs {
		next := lowerDescriptor(b, loop, md, maxStages, consts)
		yield.Operands = append(yield.Operands, next)
	}
	return nil
}

// lowerDescriptor replaces md by a write into the current slot of a fresh
// ring and returns the slot index for the next iteration.
func lowerDescriptor(b *ir.Builder, loop, md *ir.IRNode, maxStages int, c ringConstants) *ir.Value {
	fn := b.Function()
	old := md.Result()
	dt := old.Type.(*ir.DescType)

	b.SetInsertionPoint(loop)
	b.SetLoc(md.Loc)
	ring := b.Named(old.Name+"_ring").GlobalScratchAlloc(
		maxStages*DescriptorBytes, DescriptorAlignment, &ir.PointerType{Pointee: dtypes.Int8})
	idx, _ := fn.AddIterArg(loop, c.zero, old.Name+"_idx")

	b.SetInsertionPoint(md)
	off := b.Named(old.Name+"_off").Compute("muli", []ir.Type{ir.I32}, idx, c.stride).Result()
	slot := b.Named(old.Name+"_slot").AddPtr(ring, off)
	rank := dt.Block.Rank()
	base, shape, strides := md.Operands[0], md.Operands[1:1+rank], md.Operands[1+rank:]
	b.TensormapCreate(slot, base, shape, strides, dt)
	b.TensormapFenceProxyAcquire(slot)
	desc := b.Named(old.Name).ReinterpretDescriptor(slot, dt)

	inc := b.Named(old.Name+"_inc").Compute("addi", []ir.Type{ir.I32}, idx, c.one).Result()
	inRange := b.Named(old.Name+"_in_range").Compute("cmpi_slt", []ir.Type{ir.Scalar(dtypes.Bool)}, inc, c.stages).Result()
	next := b.Named(old.Name+"_next").Compute("select", []ir.Type{ir.I32}, inRange, inc, c.zero).Result()

	fn.ReplaceAllUsesWith(old, desc)
	fn.Erase(md)
	return next
}
