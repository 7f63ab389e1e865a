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
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
)

// buildStoreLoop builds
//
//	func @f(%d: !desc<64x64xf16>, %n: i32) {
//	  for %i = %c0 to %n step %c1 {
//	    %x = compute "tile"(%i) : tensor<64x64xf16>
//	    desc_store %d[%i, %c0], %x
//	    yield
//	  }
//	}
func buildStoreLoop(t *testing.T) (*IRFunction, *IRNode) {
	t.Helper()
	fn := NewFunction("f")
	tile := &TensorType{Shape: []int64{64, 64}, DType: dtypes.Float16}
	d := fn.AddParam("d", &DescType{Block: tile})
	n := fn.AddParam("n", I32)

	b := NewBuilder(fn)
	c0 := b.Constant(0, I32)
	c1 := b.Constant(1, I32)
	loop := b.Loop(c0, n, c1, nil, "i", nil)
	b.SetInsertionPointToEnd(loop)
	x := b.Named("x").Compute("tile", []Type{tile}, loop.InductionVar()).Result()
	b.DescriptorStore(d, x, []*Value{loop.InductionVar(), c0})
	b.Yield()
	return fn, loop
}

func TestBuilder(t *testing.T) {
	fn, loop := buildStoreLoop(t)
	if err := Verify(fn); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := `func @f(%d: !desc<64x64xf16>, %n: i32) {
  %c0 = constant 0 : i32
  %c1 = constant 1 : i32
  for %i = %c0 to %n step %c1 {
    %x = compute "tile"(%i) : tensor<64x64xf16>
    desc_store %d[%i, %c0], %x
    yield
  }
}
`
	if got := Print(fn); got != want {
		t.Errorf("Print =\n%s\nwant\n%s", got, want)
	}
	if len(fn.AllNodes) != 6 {
		t.Errorf("AllNodes = %d, want 6", len(fn.AllNodes))
	}
	for _, n := range loop.Children {
		if n.Parent != loop {
			t.Errorf("%s: parent = %v, want loop", n, n.Parent)
		}
		if fn.GetNode(n.ID) != n {
			t.Errorf("GetNode(%d) does not return %s", n.ID, n)
		}
	}
}

func TestInsertionPoints(t *testing.T) {
	fn, loop := buildStoreLoop(t)
	store := loop.Children[1]

	b := NewBuilder(fn)
	b.SetInsertionPoint(store)
	b.AsyncStoreWait(0)
	b.FenceAsyncShared(true)
	b.SetInsertionPointAfter(store)
	b.AsyncStoreWait(1)
	b.SetInsertionPointAfter(loop)
	b.AsyncStoreWait(2)

	got := make([]string, len(loop.Children))
	for i, n := range loop.Children {
		got[i] = n.Kind.String()
	}
	want := "compute async_store_wait fence_async_shared desc_store async_store_wait yield"
	if strings.Join(got, " ") != want {
		t.Errorf("loop body = %v, want %s", got, want)
	}
	if !loop.Children[2].Cluster {
		t.Error("fence lost its cluster attribute")
	}
	last := fn.Operations[len(fn.Operations)-1]
	if last.Kind != OpKindAsyncStoreWait || last.Pending != 2 || last.Parent != nil {
		t.Errorf("after loop = %s (pending %d)", last, last.Pending)
	}
}

func TestEraseAndReplace(t *testing.T) {
	fn, loop := buildStoreLoop(t)
	x := loop.Children[0].Result()

	b := NewBuilder(fn)
	b.SetInsertionPoint(loop.Children[0])
	y := b.Named("x").Compute("tile2", []Type{x.Type}, loop.InductionVar()).Result()
	if y.Name != "x_1" {
		t.Errorf("name = %q, want x_1", y.Name)
	}
	fn.ReplaceAllUsesWith(x, y)
	if uses := fn.Uses(x); len(uses) != 0 {
		t.Errorf("%s still has %d uses", x, len(uses))
	}
	if uses := fn.Uses(y); len(uses) != 1 || uses[0].Kind != OpKindDescriptorStore {
		t.Errorf("uses of %s = %v", y, uses)
	}
	old := x.Def
	fn.Erase(old)
	if fn.GetNode(old.ID) != nil {
		t.Error("erased node still registered")
	}
	if err := Verify(fn); err != nil {
		t.Fatalf("Verify after rewrite: %v", err)
	}

	fn.Erase(loop)
	if len(fn.Operations) != 2 || len(fn.AllNodes) != 2 {
		t.Errorf("after erasing the loop: %d ops, %d nodes", len(fn.Operations), len(fn.AllNodes))
	}
}

func TestAddIterArg(t *testing.T) {
	fn, loop := buildStoreLoop(t)
	b := NewBuilder(fn)
	b.SetInsertionPoint(loop)
	init := b.Constant(7, I32)

	arg, result := fn.AddIterArg(loop, init, "k")
	if arg.Name != "k" || result.Name != "k_final" {
		t.Errorf("names = %s, %s", arg, result)
	}
	if !arg.IsBlockArg() || arg.ArgIndex != 1 || result.IsBlockArg() {
		t.Errorf("arg index %d, block arg %t / %t", arg.ArgIndex, arg.IsBlockArg(), result.IsBlockArg())
	}
	if err := Verify(fn); err == nil {
		t.Error("Verify should reject a yield without the new value")
	}
	loop.Terminator().Operands = append(loop.Terminator().Operands, arg)
	if err := Verify(fn); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !strings.Contains(Print(fn), "%k_final = for %i = %c0 to %n step %c1 iter_args(%k = %c7) {") {
		t.Errorf("unexpected loop header in\n%s", Print(fn))
	}
}

func TestWalk(t *testing.T) {
	src := `func @w(%n: i32) {
  %c0 = constant 0 : i32
  for %i = %c0 to %n step %n {
    %a = compute "a"() : i32
    for %j = %c0 to %n step %n {
      %b = compute "b"() : i32
      yield
    }
    for %k = %c0 to %n step %n {
      yield
    }
    yield
  }
}
`
	fn, err := Parse("w.ir", src)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	Walk(fn.Operations, func(n *IRNode) WalkResult {
		if n.Kind == OpKindCompute {
			names = append(names, n.Name)
		}
		return WalkAdvance
	})
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("pre-order computes = %v", names)
	}

	names = nil
	Walk(fn.Operations, func(n *IRNode) WalkResult {
		if n.Kind == OpKindCompute {
			names = append(names, n.Name)
		}
		if n.Kind == OpKindLoop && n.InductionVar().Name == "j" {
			return WalkSkip
		}
		return WalkAdvance
	})
	if strings.Join(names, ",") != "a" {
		t.Errorf("computes with skip = %v", names)
	}

	count := 0
	res := Walk(fn.Operations, func(n *IRNode) WalkResult {
		count++
		if n.Kind == OpKindCompute {
			return WalkInterrupt
		}
		return WalkAdvance
	})
	if res != WalkInterrupt || count != 3 {
		t.Errorf("interrupt: result %d after %d visits", res, count)
	}

	ivs := func(loops []*IRNode) string {
		s := make([]string, len(loops))
		for i, l := range loops {
			s[i] = l.InductionVar().Name
		}
		return strings.Join(s, ",")
	}
	if got := ivs(Loops(fn.Operations)); got != "i,j,k" {
		t.Errorf("Loops = %s", got)
	}
	if got := ivs(PostOrderLoops(fn.Operations)); got != "j,k,i" {
		t.Errorf("PostOrderLoops = %s", got)
	}

	outer := fn.Operations[1]
	inner := outer.Children[1]
	b := inner.Children[0]
	if !IsAncestor(outer, b) || IsAncestor(inner, outer) {
		t.Error("IsAncestor")
	}
	if !DefinedInside(outer, b.Result()) || !DefinedInside(outer, inner.InductionVar()) ||
		!DefinedInside(outer, outer.InductionVar()) || DefinedInside(outer, fn.Params[0]) ||
		DefinedInside(inner, outer.Children[0].Result()) {
		t.Error("DefinedInside")
	}
}

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "use outside loop",
			src: `func @f(%n: i32) {
  for %i = %n to %n step %n {
    %x = compute "a"() : i32
    yield
  }
  %y = compute "b"(%x) : i32
}
`,
			want: "operand %x is not defined before use",
		},
		{
			name: "index count",
			src: `func @f(%d: !desc<8x8xf32>, %x: tensor<8x8xf32>, %n: i32) {
  desc_store %d[%n], %x
}
`,
			want: "1 indices for a rank 2 descriptor",
		},
		{
			name: "immutable buffer",
			src: `func @f(%x: tensor<8xf32>) {
  %buf = local_alloc : !memdesc<8xf32>
  local_store %x, %buf
}
`,
			want: "immutable buffer",
		},
		{
			name: "shape mismatch",
			src: `func @f(%x: tensor<8xf32>) {
  %buf = local_alloc : !memdesc<16xf32, mutable>
  local_store %x, %buf
}
`,
			want: "cannot store tensor<8xf32>",
		},
		{
			name: "yield arity",
			src: `func @f(%n: i32) {
  %r = for %i = %n to %n step %n iter_args(%a = %n) {
    yield
  }
}
`,
			want: "yield has 0 operands, loop carries 1 values",
		},
		{
			name: "async copy needs a buffer",
			src: `func @f(%d: !desc<8xf32>, %x: tensor<8xf32>, %n: i32) {
  async_copy_local_to_global %d[%n], %x
}
`,
			want: "expected (descriptor, memdesc)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := Parse("v.ir", tt.src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			err = Verify(fn)
			if err == nil {
				t.Fatal("Verify succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
			if !strings.Contains(err.Error(), "@f") {
				t.Errorf("error %q does not name the function", err)
			}
		})
	}
}

func TestVerifyScoping(t *testing.T) {
	fn, loop := buildStoreLoop(t)
	x := loop.Children[0].Result()

	// Reading a loop body value after the loop is out of scope.
	b := NewBuilder(fn)
	b.Compute("escape", nil, x)
	err := Verify(fn)
	if err == nil || !strings.Contains(err.Error(), "not defined before use") {
		t.Errorf("Verify = %v, want scoping error", err)
	}
}

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		ty   Type
		want string
	}{
		{I32, "i32"},
		{Scalar(dtypes.Bool), "i1"},
		{&TensorType{Shape: []int64{2, 3}, DType: dtypes.BFloat16}, "tensor<2x3xbf16>"},
		{&MemDescType{Shape: []int64{4}, DType: dtypes.Uint8}, "!memdesc<4xu8>"},
		{&PointerType{Pointee: dtypes.Int8}, "!ptr<i8>"},
		{&DescType{Block: &TensorType{Shape: []int64{16}, DType: dtypes.Float64},
			Encoding: &SharedEncoding{ElementBits: 64}}, "!desc<16xf64, #shared<swizzle=0, bits=64>>"},
	}
	for _, tt := range tests {
		if got := tt.ty.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if (&TensorType{Shape: []int64{2, 3, 4}}).NumElements() != 24 {
		t.Error("NumElements")
	}
	if ShapeKey([]int64{64, 1}) != "64x1" {
		t.Error("ShapeKey")
	}
}

func TestEncodingEqual(t *testing.T) {
	a := &SharedEncoding{SwizzleBytes: 128, ElementBits: 16}
	b := a.Clone()
	if a == b || !a.Equal(b) {
		t.Error("Clone should copy")
	}
	b.Transposed = true
	if a.Equal(b) {
		t.Error("different encodings compare equal")
	}
	var none *SharedEncoding
	if !none.Equal(nil) || none.Equal(a) || a.Equal(nil) {
		t.Error("nil handling")
	}
}
