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

// Package ir provides the intermediate representation for GPU kernels that
// the async store pipeliner rewrites: tensor-level operations, tensor
// descriptors addressing remote memory, on-chip staging buffers and the
// asynchronous copy engine operations that move data between them.
//
// A function is a linear list of IRNodes. Loop nodes keep their body in
// Children, which always ends with a Yield node.
package ir

import (
	"fmt"
	"strings"
)

// OpKind identifies the operation an IRNode performs.
type OpKind int

const (
	// OpKindConstant materializes an integer constant (Const field).
	OpKindConstant OpKind = iota

	// OpKindCompute is an opaque operation identified by Name
	// (e.g. "dot", "addi", "load"). The pass never looks inside it.
	OpKindCompute

	// OpKindLoop is a counted loop. Operands are [lb, ub, step, inits...],
	// Args are [iv, iterArgs...] and Children holds the body.
	OpKindLoop

	// OpKindYield terminates a loop body, passing the next iter arg values.
	OpKindYield

	// OpKindMakeDescriptor builds a tensor descriptor on the device.
	// Operands are [base, shape..., strides...].
	OpKindMakeDescriptor

	// OpKindDescriptorStore writes a tensor to a descriptor block.
	// Operands are [desc, src, indices...].
	OpKindDescriptorStore

	// OpKindDescriptorReduce combines a tensor into a descriptor block.
	// Operands are [desc, src, indices...]; ReduceKind is set.
	OpKindDescriptorReduce

	// OpKindDescriptorScatter writes rows of a tensor at per-row offsets.
	// Operands are [desc, src, xOffsets, yOffset].
	OpKindDescriptorScatter

	// OpKindLocalAlloc allocates a shared memory buffer.
	OpKindLocalAlloc

	// OpKindLocalStore copies a tensor into a shared memory buffer.
	// Operands are [src, buf].
	OpKindLocalStore

	// OpKindLocalDealloc releases a shared memory buffer.
	OpKindLocalDealloc

	// OpKindAsyncStoreWait blocks until at most Pending async stores are in flight.
	OpKindAsyncStoreWait

	// OpKindFenceAsyncShared orders prior shared memory writes before
	// subsequently issued async proxy operations.
	OpKindFenceAsyncShared

	// OpKindAsyncCopyLocalToGlobal issues an async copy from a buffer to a
	// descriptor block. Operands are [desc, buf, indices...].
	OpKindAsyncCopyLocalToGlobal

	// OpKindAsyncReduce issues an async reducing copy. Operands are
	// [desc, buf, indices...]; ReduceKind is set.
	OpKindAsyncReduce

	// OpKindAsyncScatter issues an async row scatter. Operands are
	// [desc, buf, xOffsets, yOffset].
	OpKindAsyncScatter

	// OpKindGlobalScratchAlloc reserves NBytes of global scratch memory.
	OpKindGlobalScratchAlloc

	// OpKindAddPtr offsets a pointer. Operands are [ptr, offset].
	OpKindAddPtr

	// OpKindTensormapCreate writes a descriptor into global memory.
	// Operands are [dst, base, shape..., strides...]; DescType is set.
	OpKindTensormapCreate

	// OpKindTensormapFenceProxyAcquire makes a freshly written descriptor
	// visible to the async proxy.
	OpKindTensormapFenceProxyAcquire

	// OpKindReinterpretDescriptor views a global pointer as a descriptor.
	OpKindReinterpretDescriptor
)

var opKindNames = [...]string{
	OpKindConstant:                   "constant",
	OpKindCompute:                    "compute",
	OpKindLoop:                       "for",
	OpKindYield:                      "yield",
	OpKindMakeDescriptor:             "make_desc",
	OpKindDescriptorStore:            "desc_store",
	OpKindDescriptorReduce:           "desc_reduce",
	OpKindDescriptorScatter:          "desc_scatter",
	OpKindLocalAlloc:                 "local_alloc",
	OpKindLocalStore:                 "local_store",
	OpKindLocalDealloc:               "local_dealloc",
	OpKindAsyncStoreWait:             "async_store_wait",
	OpKindFenceAsyncShared:           "fence_async_shared",
	OpKindAsyncCopyLocalToGlobal:     "async_copy_local_to_global",
	OpKindAsyncReduce:                "async_reduce",
	OpKindAsyncScatter:               "async_scatter",
	OpKindGlobalScratchAlloc:         "global_scratch_alloc",
	OpKindAddPtr:                     "addptr",
	OpKindTensormapCreate:            "tensormap_create",
	OpKindTensormapFenceProxyAcquire: "tensormap_fenceproxy_acquire",
	OpKindReinterpretDescriptor:      "reinterpret_desc",
}

// String returns the mnemonic used by the text format.
func (k OpKind) String() string {
	if k >= 0 && int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// opKindByName is the inverse of opKindNames, used by the parser.
var opKindByName = func() map[string]OpKind {
	m := make(map[string]OpKind, len(opKindNames))
	for k, name := range opKindNames {
		m[name] = OpKind(k)
	}
	return m
}()

// IsDescriptorWrite reports whether the kind is one of the synchronous
// descriptor writes (store, reduce, scatter).
func (k OpKind) IsDescriptorWrite() bool {
	switch k {
	case OpKindDescriptorStore, OpKindDescriptorReduce, OpKindDescriptorScatter:
		return true
	default:
		return false
	}
}

// IsAsyncIssue reports whether the kind starts an async copy engine transfer.
func (k OpKind) IsAsyncIssue() bool {
	switch k {
	case OpKindAsyncCopyLocalToGlobal, OpKindAsyncReduce, OpKindAsyncScatter:
		return true
	default:
		return false
	}
}

// ReduceKind is the combining operation of a reducing store.
type ReduceKind int

const (
	ReduceAdd ReduceKind = iota
	ReduceMin
	ReduceMax
	ReduceInc
	ReduceDec
	ReduceAnd
	ReduceOr
	ReduceXor
)

var reduceKindNames = [...]string{
	ReduceAdd: "add",
	ReduceMin: "min",
	ReduceMax: "max",
	ReduceInc: "inc",
	ReduceDec: "dec",
	ReduceAnd: "and",
	ReduceOr:  "or",
	ReduceXor: "xor",
}

func (r ReduceKind) String() string {
	if r >= 0 && int(r) < len(reduceKindNames) {
		return reduceKindNames[r]
	}
	return fmt.Sprintf("ReduceKind(%d)", int(r))
}

// ParseReduceKind returns the ReduceKind with the given name.
func ParseReduceKind(s string) (ReduceKind, bool) {
	for k, name := range reduceKindNames {
		if name == s {
			return ReduceKind(k), true
		}
	}
	return 0, false
}

// Location is a source position carried through rewrites for diagnostics.
type Location struct {
	File string
	Line int
	Col  int
}

// IsKnown returns true if the location carries a line number.
func (l Location) IsKnown() bool {
	return l.Line > 0
}

func (l Location) String() string {
	if !l.IsKnown() {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Value is an SSA value: an operation result, a loop block argument or a
// function parameter.
type Value struct {
	// ID is unique within the owning function.
	ID int

	// Name is the textual name without the leading '%'.
	Name string

	// Type is the value's type.
	Type Type

	// Def is the producing node for results, the owning loop for block
	// arguments, and nil for function parameters.
	Def *IRNode

	// ArgIndex is the block argument index within Def's Args, or -1 for
	// operation results.
	ArgIndex int
}

// IsParam returns true for function parameters.
func (v *Value) IsParam() bool {
	return v.Def == nil
}

// IsBlockArg returns true for loop induction variables and iter args.
func (v *Value) IsBlockArg() bool {
	return v.Def != nil && v.ArgIndex >= 0
}

func (v *Value) String() string {
	return "%" + v.Name
}

// IRNode is a single operation.
type IRNode struct {
	// ID is a unique identifier for this node within its function.
	ID int

	// Kind identifies the operation.
	Kind OpKind

	// Name is the operation name of OpKindCompute nodes.
	Name string

	// Operands are the values this operation reads, in kind-specific order.
	Operands []*Value

	// Results are the values this operation defines.
	Results []*Value

	// Args are the block arguments of a loop body: the induction variable
	// followed by the iter args.
	Args []*Value

	// Children is the body of OpKindLoop nodes.
	Children []*IRNode

	// Parent is the enclosing loop, nil at function level.
	Parent *IRNode

	// Loc is the originating source location.
	Loc Location

	// ---- Kind-specific attributes ----

	// Const is the value of OpKindConstant nodes.
	Const int64

	// Pending is the outstanding-copy target of OpKindAsyncStoreWait.
	Pending int

	// Cluster selects the cluster-wide variant of OpKindFenceAsyncShared.
	Cluster bool

	// ReduceKind is set for descriptor and async reduce nodes.
	ReduceKind ReduceKind

	// NBytes and Alignment describe OpKindGlobalScratchAlloc nodes.
	NBytes    int
	Alignment int

	// DescType is the descriptor layout written by OpKindTensormapCreate.
	DescType *DescType
}

// Result returns the single result of the node, or nil.
func (n *IRNode) Result() *Value {
	if len(n.Results) == 0 {
		return nil
	}
	return n.Results[0]
}

// IsLoop returns true if this node is a loop.
func (n *IRNode) IsLoop() bool {
	return n.Kind == OpKindLoop
}

// InductionVar returns the loop induction variable.
func (n *IRNode) InductionVar() *Value {
	if n.Kind != OpKindLoop || len(n.Args) == 0 {
		return nil
	}
	return n.Args[0]
}

// IterArgs returns the loop-carried block arguments.
func (n *IRNode) IterArgs() []*Value {
	if n.Kind != OpKindLoop || len(n.Args) == 0 {
		return nil
	}
	return n.Args[1:]
}

// IterInits returns the initial values of the loop-carried arguments.
func (n *IRNode) IterInits() []*Value {
	if n.Kind != OpKindLoop || len(n.Operands) < 3 {
		return nil
	}
	return n.Operands[3:]
}

// Terminator returns the yield ending a loop body, or nil.
func (n *IRNode) Terminator() *IRNode {
	if len(n.Children) == 0 {
		return nil
	}
	last := n.Children[len(n.Children)-1]
	if last.Kind != OpKindYield {
		return nil
	}
	return last
}

// String returns a debug string representation of the IRNode.
func (n *IRNode) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IRNode{ID:%d Kind:%s", n.ID, n.Kind)
	if n.Name != "" {
		fmt.Fprintf(&sb, " Name:%q", n.Name)
	}
	if len(n.Results) > 0 {
		fmt.Fprintf(&sb, " Out:%v", n.Results)
	}
	if len(n.Operands) > 0 {
		fmt.Fprintf(&sb, " In:%v", n.Operands)
	}
	if n.Loc.IsKnown() {
		fmt.Fprintf(&sb, " Loc:%s", n.Loc)
	}
	sb.WriteString("}")
	return sb.String()
}

// IRFunction is a kernel function.
type IRFunction struct {
	// Name is the function name without the leading '@'.
	Name string

	// Params are the parameter values in declaration order.
	Params []*Value

	// Operations is the linear body. Loop nodes contain their body in Children.
	Operations []*IRNode

	// AllNodes maps node IDs to live nodes.
	AllNodes map[int]*IRNode

	nextID      int
	nextValueID int
	nextName    int
	names       map[string]bool
}

// NewFunction creates a new empty IRFunction.
func NewFunction(name string) *IRFunction {
	return &IRFunction{
		Name:     name,
		AllNodes: make(map[int]*IRNode),
		names:    make(map[string]bool),
	}
}

// NewNodeID allocates and returns a new unique node ID.
func (f *IRFunction) NewNodeID() int {
	id := f.nextID
	f.nextID++
	return id
}

// GetNode returns the node with the given ID, or nil if not found.
func (f *IRFunction) GetNode(id int) *IRNode {
	return f.AllNodes[id]
}

// AddParam appends a function parameter.
func (f *IRFunction) AddParam(name string, ty Type) *Value {
	v := f.newValue(ty, name)
	v.ArgIndex = len(f.Params)
	f.Params = append(f.Params, v)
	return v
}

// newValue creates a value with a function-unique name derived from hint.
// An empty hint yields the next free numeric name.
func (f *IRFunction) newValue(ty Type, hint string) *Value {
	v := &Value{
		ID:       f.nextValueID,
		Name:     f.uniqueName(hint),
		Type:     ty,
		ArgIndex: -1,
	}
	f.nextValueID++
	return v
}

func (f *IRFunction) uniqueName(hint string) string {
	if f.names == nil {
		f.names = make(map[string]bool)
	}
	if hint == "" {
		for {
			name := fmt.Sprintf("%d", f.nextName)
			f.nextName++
			if !f.names[name] {
				f.names[name] = true
				return name
			}
		}
	}
	hint = sanitizeName(hint)
	name := hint
	for i := 1; f.names[name]; i++ {
		name = fmt.Sprintf("%s_%d", hint, i)
	}
	f.names[name] = true
	return name
}

// String returns a debug string representation of the IRFunction.
func (f *IRFunction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IRFunction{Name:%s Params:[", f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%s", p.Name, p.Type)
	}
	fmt.Fprintf(&sb, "] Ops:%d}", len(f.Operations))
	return sb.String()
}

// Module is a set of independent functions.
type Module struct {
	Functions []*IRFunction
}

// Lookup returns the function with the given name, or nil.
func (m *Module) Lookup(name string) *IRFunction {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}
