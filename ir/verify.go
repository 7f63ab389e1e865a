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
	"slices"

	"github.com/pkg/errors"
)

// Verify checks structural invariants of a function: every operand is
// defined before use in an enclosing scope, loop bodies are terminated by a
// matching yield, and the operands of memory operations have the expected
// types.
func Verify(fn *IRFunction) error {
	v := &verifier{fn: fn, defined: make(map[*Value]bool)}
	for _, p := range fn.Params {
		v.defined[p] = true
	}
	return v.block(fn.Operations, nil)
}

type verifier struct {
	fn      *IRFunction
	defined map[*Value]bool
}

func (v *verifier) errorf(n *IRNode, format string, args ...any) error {
	return errors.WithMessagef(errors.Errorf(format, args...), "@%s: %s at %s", v.fn.Name, n.Kind, n.Loc)
}

func (v *verifier) block(nodes []*IRNode, loop *IRNode) error {
	var local []*Value
	defer func() {
		for _, val := range local {
			delete(v.defined, val)
		}
	}()
	for i, n := range nodes {
		if n.Parent != loop {
			return v.errorf(n, "node has wrong parent")
		}
		for _, op := range n.Operands {
			if op == nil || !v.defined[op] {
				name := "<nil>"
				if op != nil {
					name = op.String()
				}
				return v.errorf(n, "operand %s is not defined before use", name)
			}
		}
		if n.Kind == OpKindYield {
			if loop == nil || i != len(nodes)-1 {
				return v.errorf(n, "yield must terminate a loop body")
			}
			if len(n.Operands) != len(loop.IterArgs()) {
				return v.errorf(n, "yield has %d operands, loop carries %d values", len(n.Operands), len(loop.IterArgs()))
			}
		}
		if err := v.node(n); err != nil {
			return err
		}
		if n.Kind == OpKindLoop {
			if err := v.loop(n); err != nil {
				return err
			}
		}
		for _, r := range n.Results {
			v.defined[r] = true
			local = append(local, r)
		}
	}
	return nil
}

func (v *verifier) loop(n *IRNode) error {
	if len(n.Operands) < 3 {
		return v.errorf(n, "loop needs lower bound, upper bound and step")
	}
	if len(n.Args) != 1+len(n.IterInits()) || len(n.Results) != len(n.IterInits()) {
		return v.errorf(n, "loop has %d block args and %d results for %d iter args",
			len(n.Args), len(n.Results), len(n.IterInits()))
	}
	if n.Terminator() == nil {
		return v.errorf(n, "loop body must end with yield")
	}
	for _, a := range n.Args {
		v.defined[a] = true
	}
	err := v.block(n.Children, n)
	for _, a := range n.Args {
		delete(v.defined, a)
	}
	return err
}

func descOf(val *Value) *DescType {
	t, _ := val.Type.(*DescType)
	return t
}

func memOf(val *Value) *MemDescType {
	t, _ := val.Type.(*MemDescType)
	return t
}

func tensorOf(val *Value) *TensorType {
	t, _ := val.Type.(*TensorType)
	return t
}

// node checks kind-specific operand types.
func (v *verifier) node(n *IRNode) error {
	ops := n.Operands
	need := func(count int) error {
		if len(ops) < count {
			return v.errorf(n, "expected at least %d operands, got %d", count, len(ops))
		}
		return nil
	}
	switch n.Kind {
	case OpKindConstant:
		if _, ok := n.Result().Type.(*ScalarType); !ok {
			return v.errorf(n, "constant must be scalar")
		}

	case OpKindDescriptorStore, OpKindDescriptorReduce:
		if err := need(2); err != nil {
			return err
		}
		desc, src := descOf(ops[0]), tensorOf(ops[1])
		if desc == nil || src == nil {
			return v.errorf(n, "expected (descriptor, tensor), got (%s, %s)", ops[0].Type, ops[1].Type)
		}
		if len(ops)-2 != desc.Block.Rank() {
			return v.errorf(n, "%d indices for a rank %d descriptor", len(ops)-2, desc.Block.Rank())
		}

	case OpKindDescriptorScatter:
		if len(ops) != 4 || descOf(ops[0]) == nil || tensorOf(ops[1]) == nil || tensorOf(ops[2]) == nil {
			return v.errorf(n, "expected (descriptor, tensor, x offsets tensor, y offset)")
		}

	case OpKindAsyncCopyLocalToGlobal, OpKindAsyncReduce:
		if err := need(2); err != nil {
			return err
		}
		desc, buf := descOf(ops[0]), memOf(ops[1])
		if desc == nil || buf == nil {
			return v.errorf(n, "expected (descriptor, memdesc), got (%s, %s)", ops[0].Type, ops[1].Type)
		}
		if len(ops)-2 != desc.Block.Rank() {
			return v.errorf(n, "%d indices for a rank %d descriptor", len(ops)-2, desc.Block.Rank())
		}

	case OpKindAsyncScatter:
		if len(ops) != 4 || descOf(ops[0]) == nil || memOf(ops[1]) == nil || tensorOf(ops[2]) == nil {
			return v.errorf(n, "expected (descriptor, memdesc, x offsets tensor, y offset)")
		}

	case OpKindLocalStore:
		if err := need(2); err != nil {
			return err
		}
		src, buf := tensorOf(ops[0]), memOf(ops[1])
		if src == nil || buf == nil {
			return v.errorf(n, "expected (tensor, memdesc), got (%s, %s)", ops[0].Type, ops[1].Type)
		}
		if !buf.Mutable {
			return v.errorf(n, "store into immutable buffer %s", ops[1])
		}
		if src.DType != buf.DType || !slices.Equal(src.Shape, buf.Shape) {
			return v.errorf(n, "cannot store %s into %s", src, buf)
		}

	case OpKindLocalDealloc:
		if len(ops) != 1 || memOf(ops[0]) == nil {
			return v.errorf(n, "expected a single memdesc operand")
		}

	case OpKindLocalAlloc:
		if memOf(n.Result()) == nil {
			return v.errorf(n, "local_alloc must produce a memdesc")
		}

	case OpKindMakeDescriptor, OpKindReinterpretDescriptor:
		desc := descOf(n.Result())
		if desc == nil {
			return v.errorf(n, "must produce a descriptor")
		}
		if n.Kind == OpKindMakeDescriptor && len(ops) != 1+2*desc.Block.Rank() {
			return v.errorf(n, "expected base plus %d shape and stride operands", 2*desc.Block.Rank())
		}

	case OpKindTensormapCreate:
		if n.DescType == nil || len(ops) != 2+2*n.DescType.Block.Rank() {
			return v.errorf(n, "malformed tensormap_create")
		}

	case OpKindAddPtr:
		if err := need(2); err != nil {
			return err
		}
		if _, ok := ops[0].Type.(*PointerType); !ok {
			return v.errorf(n, "addptr base must be a pointer, got %s", ops[0].Type)
		}
	}
	return nil
}
