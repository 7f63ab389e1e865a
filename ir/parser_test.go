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
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"
)

// TestRoundTrip parses every canonical text and checks that printing
// reproduces it exactly.
func TestRoundTrip(t *testing.T) {
	ar, err := txtar.ParseFile("testdata/roundtrip.txtar")
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(ar.Files) == 0 {
		t.Fatal("archive has no files")
	}
	for _, f := range ar.Files {
		t.Run(f.Name, func(t *testing.T) {
			src := string(f.Data)
			fn, err := Parse(f.Name, src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if err := Verify(fn); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if diff := cmp.Diff(src, Print(fn)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseModule(t *testing.T) {
	src := `
func @a(%n: i32) {
  %c0 = constant 0 : i32
}

// second function
func @b(%n: i32) {
  %c0 = constant 0 : i32
}
`
	m, err := ParseModule("mod.ir", src)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Functions) != 2 {
		t.Fatalf("functions = %d, want 2", len(m.Functions))
	}
	if m.Lookup("b") == nil {
		t.Error("Lookup(b) = nil")
	}
	if m.Lookup("c") != nil {
		t.Error("Lookup(c) != nil")
	}
	want := "func @a(%n: i32) {\n  %c0 = constant 0 : i32\n}\n\nfunc @b(%n: i32) {\n  %c0 = constant 0 : i32\n}\n"
	if got := PrintModule(m); got != want {
		t.Errorf("PrintModule =\n%s\nwant\n%s", got, want)
	}
}

func TestParseLocations(t *testing.T) {
	src := `func @f(%d: !desc<16xf32>, %x: tensor<16xf32>, %i: i32) {
  desc_store %d[%i], %x loc("k.py":7:3)
}
`
	fn, err := Parse("f.ir", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := fn.Operations[0].Loc
	want := Location{File: "k.py", Line: 7, Col: 3}
	if got != want {
		t.Errorf("Loc = %+v, want %+v", got, want)
	}
	if got.String() != "k.py:7:3" {
		t.Errorf("Loc.String() = %q", got.String())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "undefined value",
			src:  "func @f(%n: i32) {\n  %x = compute \"neg\"(%m) : i32\n}\n",
			want: "undefined value %m",
		},
		{
			name: "redefinition",
			src:  "func @f(%n: i32) {\n  %n = constant 1 : i32\n}\n",
			want: "redefinition of %n",
		},
		{
			name: "unknown op",
			src:  "func @f(%n: i32) {\n  frobnicate %n\n}\n",
			want: "unknown operation",
		},
		{
			name: "missing yield",
			src:  "func @f(%n: i32) {\n  for %i = %n to %n step %n {\n  }\n}\n",
			want: "loop body must end with yield",
		},
		{
			name: "bad type",
			src:  "func @f(%n: tensor<4xq7>) {\n}\n",
			want: "unknown element type",
		},
		{
			name: "unterminated",
			src:  "func @f(%n: i32) {\n  %c0 = constant 0 : i32\n",
			want: "missing '}'",
		},
		{
			name: "bad reduce kind",
			src:  "func @f(%d: !desc<4xf32>, %x: tensor<4xf32>, %n: i32) {\n  desc_reduce mul %d[%n], %x\n}\n",
			want: "unknown reduce kind",
		},
		{
			name: "scatter arity",
			src:  "func @f(%d: !desc<4xf32>, %x: tensor<4xf32>, %n: i32) {\n  desc_scatter %d[%n], %x\n}\n",
			want: "takes [xOffsets, yOffset]",
		},
		{
			name: "duplicate function",
			src:  "func @f(%n: i32) {\n}\nfunc @f(%n: i32) {\n}\n",
			want: "defined twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModule("bad.ir", tt.src)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		src  string
		want Type
	}{
		{"i32", I32},
		{"tensor<128x64xf16>", &TensorType{Shape: []int64{128, 64}, DType: mustElem("f16")}},
		{"tensor<f32>", &TensorType{Shape: []int64{}, DType: mustElem("f32")}},
		{"!ptr<i8>", &PointerType{Pointee: mustElem("i8")}},
		{
			"!desc<64x32xu8, #shared<swizzle=128, bits=8, fp4_padded>>",
			&DescType{
				Block:    &TensorType{Shape: []int64{64, 32}, DType: mustElem("u8")},
				Encoding: &SharedEncoding{SwizzleBytes: 128, ElementBits: 8, FP4Padded: true},
			},
		},
		{
			"!memdesc<64x32xbf16, #shared<swizzle=64, bits=16>, mutable>",
			&MemDescType{
				Shape:    []int64{64, 32},
				DType:    mustElem("bf16"),
				Encoding: &SharedEncoding{SwizzleBytes: 64, ElementBits: 16},
				Mutable:  true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParseType(tt.src)
			if err != nil {
				t.Fatalf("ParseType(%q): %v", tt.src, err)
			}
			if !TypesEqual(got, tt.want) {
				t.Errorf("ParseType(%q) = %s, want %s", tt.src, got, tt.want)
			}
			if got.String() != tt.src {
				t.Errorf("String() = %q, want %q", got.String(), tt.src)
			}
		})
	}
}

func mustElem(name string) dtypes.DType {
	dt, ok := ParseElem(name)
	if !ok {
		panic("unknown element " + name)
	}
	return dt
}
