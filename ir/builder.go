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

package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Builder creates IR nodes at an insertion point inside a function.
//
// The insertion point is a position in a block: the function body or the
// body of a loop. Each created node is inserted at that position and the
// position advances past it, so consecutive creations appear in order.
type Builder struct {
	// fn is the function being modified.
	fn *IRFunction

	// parent is the loop owning the current block, nil for the function body.
	parent *IRNode

	// index is the insertion position within the current block.
	index int

	// loc is attached to every created node.
	loc Location

	// hints name the results of the next created node.
	hints []string
}

// NewBuilder creates a builder inserting at the end of the function body.
func NewBuilder(fn *IRFunction) *Builder {
	return &Builder{fn: fn, index: len(fn.Operations)}
}

// Function returns the function being modified.
func (b *Builder) Function() *IRFunction {
	return b.fn
}

// SetInsertionPoint moves the insertion point just before op.
func (b *Builder) SetInsertionPoint(op *IRNode) {
	b.parent = op.Parent
	b.index = b.fn.indexOf(op)
}

// SetInsertionPointAfter moves the insertion point just after op.
func (b *Builder) SetInsertionPointAfter(op *IRNode) {
	b.parent = op.Parent
	b.index = b.fn.indexOf(op) + 1
}

// SetInsertionPointToEnd moves the insertion point to the end of a loop
// body, or of the function body when loop is nil.
func (b *Builder) SetInsertionPointToEnd(loop *IRNode) {
	b.parent = loop
	b.index = len(*b.fn.block(loop))
}

// SetLoc sets the location attached to subsequently created nodes.
func (b *Builder) SetLoc(loc Location) {
	b.loc = loc
}

// Named sets the result names of the next created node. Names that are
// already taken in the function get a numeric suffix.
func (b *Builder) Named(hints ...string) *Builder {
	b.hints = hints
	return b
}

// block returns the node list of the given loop, or the function body.
func (f *IRFunction) block(parent *IRNode) *[]*IRNode {
	if parent == nil {
		return &f.Operations
	}
	return &parent.Children
}

// indexOf returns the position of op within its block.
func (f *IRFunction) indexOf(op *IRNode) int {
	idx := slices.Index(*f.block(op.Parent), op)
	if idx < 0 {
		exceptions.Panicf("ir: node %s is not in its parent block", op)
	}
	return idx
}

// create builds a node with fresh results and inserts it.
func (b *Builder) create(kind OpKind, operands []*Value, resultTypes []Type) *IRNode {
	node := &IRNode{
		ID:       b.fn.NewNodeID(),
		Kind:     kind,
		Operands: operands,
		Loc:      b.loc,
	}
	hints := b.hints
	b.hints = nil
	for i, ty := range resultTypes {
		hint := ""
		if i < len(hints) {
			hint = hints[i]
		}
		v := b.fn.newValue(ty, hint)
		v.Def = node
		node.Results = append(node.Results, v)
	}
	b.insert(node)
	return node
}

func (b *Builder) insert(node *IRNode) {
	node.Parent = b.parent
	blk := b.fn.block(b.parent)
	*blk = slices.Insert(*blk, b.index, node)
	b.index++
	b.fn.AllNodes[node.ID] = node
}

// constName derives a readable value name for an integer constant.
func constName(v int64) string {
	if v < 0 {
		return fmt.Sprintf("c_m%d", -v)
	}
	return fmt.Sprintf("c%d", v)
}

// Constant creates an integer constant.
func (b *Builder) Constant(v int64, ty *ScalarType) *Value {
	if len(b.hints) == 0 {
		b.hints = []string{constName(v)}
	}
	node := b.create(OpKindConstant, nil, []Type{ty})
	node.Const = v
	return node.Result()
}

// Compute creates an opaque named operation.
func (b *Builder) Compute(name string, resultTypes []Type, operands ...*Value) *IRNode {
	node := b.create(OpKindCompute, operands, resultTypes)
	node.Name = name
	return node
}

// Loop creates a counted loop with an empty body. The caller fills the body
// (see SetInsertionPointToEnd) and must terminate it with Yield.
func (b *Builder) Loop(lb, ub, step *Value, inits []*Value, ivName string, iterNames []string) *IRNode {
	resultTypes := make([]Type, len(inits))
	for i, init := range inits {
		resultTypes[i] = init.Type
	}
	operands := append([]*Value{lb, ub, step}, inits...)
	loop := b.create(OpKindLoop, operands, resultTypes)
	iv := b.fn.newValue(lb.Type, ivName)
	iv.Def, iv.ArgIndex = loop, 0
	loop.Args = append(loop.Args, iv)
	for i, init := range inits {
		name := ""
		if i < len(iterNames) {
			name = iterNames[i]
		}
		arg := b.fn.newValue(init.Type, name)
		arg.Def, arg.ArgIndex = loop, len(loop.Args)
		loop.Args = append(loop.Args, arg)
	}
	return loop
}

// Yield creates a loop body terminator.
func (b *Builder) Yield(values ...*Value) *IRNode {
	return b.create(OpKindYield, values, nil)
}

// MakeDescriptor creates a device-side descriptor for base with the given
// global shape and strides.
func (b *Builder) MakeDescriptor(base *Value, shape, strides []*Value, ty *DescType) *Value {
	operands := append([]*Value{base}, shape...)
	operands = append(operands, strides...)
	return b.create(OpKindMakeDescriptor, operands, []Type{ty}).Result()
}

// DescriptorStore creates a synchronous descriptor store.
func (b *Builder) DescriptorStore(desc, src *Value, indices []*Value) *IRNode {
	return b.create(OpKindDescriptorStore, append([]*Value{desc, src}, indices...), nil)
}

// DescriptorReduce creates a synchronous reducing descriptor store.
func (b *Builder) DescriptorReduce(kind ReduceKind, desc, src *Value, indices []*Value) *IRNode {
	node := b.create(OpKindDescriptorReduce, append([]*Value{desc, src}, indices...), nil)
	node.ReduceKind = kind
	return node
}

// DescriptorScatter creates a synchronous row scatter.
func (b *Builder) DescriptorScatter(desc, src, xOffsets, yOffset *Value) *IRNode {
	return b.create(OpKindDescriptorScatter, []*Value{desc, src, xOffsets, yOffset}, nil)
}

// LocalAlloc creates a shared memory buffer.
func (b *Builder) LocalAlloc(ty *MemDescType) *Value {
	if len(b.hints) == 0 {
		b.hints = []string{"buf"}
	}
	return b.create(OpKindLocalAlloc, nil, []Type{ty}).Result()
}

// LocalStore copies src into buf.
func (b *Builder) LocalStore(src, buf *Value) *IRNode {
	return b.create(OpKindLocalStore, []*Value{src, buf}, nil)
}

// LocalDealloc releases buf.
func (b *Builder) LocalDealloc(buf *Value) *IRNode {
	return b.create(OpKindLocalDealloc, []*Value{buf}, nil)
}

// AsyncStoreWait waits until at most pending async stores are in flight.
func (b *Builder) AsyncStoreWait(pending int) *IRNode {
	node := b.create(OpKindAsyncStoreWait, nil, nil)
	node.Pending = pending
	return node
}

// FenceAsyncShared orders shared memory writes before async proxy reads.
func (b *Builder) FenceAsyncShared(cluster bool) *IRNode {
	node := b.create(OpKindFenceAsyncShared, nil, nil)
	node.Cluster = cluster
	return node
}

// AsyncCopyLocalToGlobal issues an async copy from buf to a descriptor block.
func (b *Builder) AsyncCopyLocalToGlobal(desc *Value, indices []*Value, buf *Value) *IRNode {
	return b.create(OpKindAsyncCopyLocalToGlobal, append([]*Value{desc, buf}, indices...), nil)
}

// AsyncReduce issues an async reducing copy from buf to a descriptor block.
func (b *Builder) AsyncReduce(kind ReduceKind, desc *Value, indices []*Value, buf *Value) *IRNode {
	node := b.create(OpKindAsyncReduce, append([]*Value{desc, buf}, indices...), nil)
	node.ReduceKind = kind
	return node
}

// AsyncScatter issues an async row scatter from buf.
func (b *Builder) AsyncScatter(desc, xOffsets, yOffset, buf *Value) *IRNode {
	return b.create(OpKindAsyncScatter, []*Value{desc, buf, xOffsets, yOffset}, nil)
}

// GlobalScratchAlloc reserves nbytes of global scratch memory.
func (b *Builder) GlobalScratchAlloc(nbytes, alignment int, ty *PointerType) *Value {
	if len(b.hints) == 0 {
		b.hints = []string{"scratch"}
	}
	node := b.create(OpKindGlobalScratchAlloc, nil, []Type{ty})
	node.NBytes = nbytes
	node.Alignment = alignment
	return node.Result()
}

// AddPtr offsets ptr by offset elements.
func (b *Builder) AddPtr(ptr, offset *Value) *Value {
	return b.create(OpKindAddPtr, []*Value{ptr, offset}, []Type{ptr.Type}).Result()
}

// TensormapCreate writes a descriptor for base into dst.
func (b *Builder) TensormapCreate(dst, base *Value, shape, strides []*Value, ty *DescType) *IRNode {
	operands := append([]*Value{dst, base}, shape...)
	operands = append(operands, strides...)
	node := b.create(OpKindTensormapCreate, operands, nil)
	node.DescType = ty
	return node
}

// TensormapFenceProxyAcquire makes the descriptor at ptr visible to the
// async proxy.
func (b *Builder) TensormapFenceProxyAcquire(ptr *Value) *IRNode {
	return b.create(OpKindTensormapFenceProxyAcquire, []*Value{ptr}, nil)
}

// ReinterpretDescriptor views the descriptor stored at ptr.
func (b *Builder) ReinterpretDescriptor(ptr *Value, ty *DescType) *Value {
	return b.create(OpKindReinterpretDescriptor, []*Value{ptr}, []Type{ty}).Result()
}

// Erase removes op (and, for loops, its body) from the function.
// The caller is responsible for the op's results having no remaining uses.
func (f *IRFunction) Erase(op *IRNode) {
	blk := f.block(op.Parent)
	idx := f.indexOf(op)
	*blk = slices.Delete(*blk, idx, idx+1)
	Walk([]*IRNode{op}, func(n *IRNode) WalkResult {
		delete(f.AllNodes, n.ID)
		return WalkAdvance
	})
	op.Parent = nil
}

// ReplaceAllUsesWith rewires every operand reading old to read new.
func (f *IRFunction) ReplaceAllUsesWith(old, new *Value) {
	Walk(f.Operations, func(n *IRNode) WalkResult {
		for i, v := range n.Operands {
			if v == old {
				n.Operands[i] = new
			}
		}
		return WalkAdvance
	})
}

// Uses returns the nodes that read v, in program order.
func (f *IRFunction) Uses(v *Value) []*IRNode {
	var uses []*IRNode
	Walk(f.Operations, func(n *IRNode) WalkResult {
		if slices.Contains(n.Operands, v) {
			uses = append(uses, n)
		}
		return WalkAdvance
	})
	return uses
}

// AddIterArg appends a loop-carried value initialized to init. It returns
// the new block argument and the matching loop result. The caller must
// append the next-iteration value to the loop's yield.
func (f *IRFunction) AddIterArg(loop *IRNode, init *Value, hint string) (arg, result *Value) {
	if loop.Kind != OpKindLoop {
		exceptions.Panicf("ir: AddIterArg on %s", loop)
	}
	loop.Operands = append(loop.Operands, init)
	arg = f.newValue(init.Type, hint)
	arg.Def, arg.ArgIndex = loop, len(loop.Args)
	loop.Args = append(loop.Args, arg)
	resultHint := ""
	if hint != "" {
		resultHint = hint + "_final"
	}
	result = f.newValue(init.Type, resultHint)
	result.Def = loop
	loop.Results = append(loop.Results, result)
	return arg, result
}

// OpsOfKind returns the nodes of the given kinds found anywhere in nodes,
// in pre-order.
func OpsOfKind(nodes []*IRNode, kinds ...OpKind) []*IRNode {
	var found []*IRNode
	Walk(nodes, func(n *IRNode) WalkResult {
		if slices.Contains(kinds, n.Kind) {
			found = append(found, n)
		}
		return WalkAdvance
	})
	return found
}

// sanitizeName maps an arbitrary hint to a valid value name.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if isIdentRune(r) {
			return r
		}
		return '_'
	}, s)
}
