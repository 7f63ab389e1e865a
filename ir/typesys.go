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
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// Type is the type of a Value.
type Type interface {
	fmt.Stringer
	isType()
}

// elemNames maps element types to their textual names.
var elemNames = map[dtypes.DType]string{
	dtypes.Bool:     "i1",
	dtypes.Int8:     "i8",
	dtypes.Int16:    "i16",
	dtypes.Int32:    "i32",
	dtypes.Int64:    "i64",
	dtypes.Uint8:    "u8",
	dtypes.Uint16:   "u16",
	dtypes.Uint32:   "u32",
	dtypes.Uint64:   "u64",
	dtypes.Float16:  "f16",
	dtypes.BFloat16: "bf16",
	dtypes.Float32:  "f32",
	dtypes.Float64:  "f64",
}

var elemByName = func() map[string]dtypes.DType {
	m := make(map[string]dtypes.DType, len(elemNames))
	for dt, name := range elemNames {
		m[name] = dt
	}
	return m
}()

// ElemName returns the textual name of an element type.
func ElemName(dt dtypes.DType) string {
	if name, ok := elemNames[dt]; ok {
		return name
	}
	return "invalid"
}

// ParseElem returns the element type with the given textual name.
func ParseElem(name string) (dtypes.DType, bool) {
	dt, ok := elemByName[name]
	return dt, ok
}

// ElemBits returns the storage width of an element type in bits.
func ElemBits(dt dtypes.DType) int {
	if dt == dtypes.Bool {
		return 8
	}
	return dt.Size() * 8
}

// ScalarType is a single element.
type ScalarType struct {
	DType dtypes.DType
}

func (*ScalarType) isType() {}

func (t *ScalarType) String() string {
	return ElemName(t.DType)
}

// Scalar returns the scalar type of the given element type.
func Scalar(dt dtypes.DType) *ScalarType {
	return &ScalarType{DType: dt}
}

// I32 is the type of loop induction variables and descriptor indices.
var I32 = Scalar(dtypes.Int32)

// TensorType is a ranked tensor held in registers.
type TensorType struct {
	Shape []int64
	DType dtypes.DType
}

func (*TensorType) isType() {}

func (t *TensorType) String() string {
	return "tensor<" + shapePrefix(t.Shape) + ElemName(t.DType) + ">"
}

// Rank returns the number of dimensions.
func (t *TensorType) Rank() int {
	return len(t.Shape)
}

// NumElements returns the product of the dimensions.
func (t *TensorType) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ShapeKey returns a comparable rendering of the shape.
func (t *TensorType) ShapeKey() string {
	return ShapeKey(t.Shape)
}

// ShapeKey renders a shape as "AxBxC".
func ShapeKey(shape []int64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return strings.Join(parts, "x")
}

func shapePrefix(shape []int64) string {
	if len(shape) == 0 {
		return ""
	}
	return ShapeKey(shape) + "x"
}

// SharedEncoding is the shared memory layout the async copy engine expects:
// rows are swizzled in SwizzleBytes-wide chunks.
type SharedEncoding struct {
	// SwizzleBytes is 0 (no swizzle), 32, 64 or 128.
	SwizzleBytes int

	// ElementBits is the storage width of one element.
	ElementBits int

	// Transposed marks column-major tiles.
	Transposed bool

	// FP4Padded marks packed 4-bit tiles whose innermost dimension is
	// stored with one padding nibble per element.
	FP4Padded bool
}

func (e *SharedEncoding) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#shared<swizzle=%d, bits=%d", e.SwizzleBytes, e.ElementBits)
	if e.Transposed {
		sb.WriteString(", transposed")
	}
	if e.FP4Padded {
		sb.WriteString(", fp4_padded")
	}
	sb.WriteString(">")
	return sb.String()
}

// Equal compares two encodings; nil encodings are equal to each other.
func (e *SharedEncoding) Equal(other *SharedEncoding) bool {
	if e == nil || other == nil {
		return e == other
	}
	return *e == *other
}

// Clone returns a copy of the encoding.
func (e *SharedEncoding) Clone() *SharedEncoding {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// DescType is a tensor descriptor: a handle to a block of remote memory.
type DescType struct {
	// Block is the shape and element type of one block.
	Block *TensorType

	// Encoding is the shared memory layout of a block, if fixed.
	Encoding *SharedEncoding
}

func (*DescType) isType() {}

func (t *DescType) String() string {
	s := "!desc<" + shapePrefix(t.Block.Shape) + ElemName(t.Block.DType)
	if t.Encoding != nil {
		s += ", " + t.Encoding.String()
	}
	return s + ">"
}

// MemDescType is an on-chip shared memory buffer.
type MemDescType struct {
	Shape    []int64
	DType    dtypes.DType
	Encoding *SharedEncoding
	Mutable  bool
}

func (*MemDescType) isType() {}

func (t *MemDescType) String() string {
	s := "!memdesc<" + shapePrefix(t.Shape) + ElemName(t.DType)
	if t.Encoding != nil {
		s += ", " + t.Encoding.String()
	}
	if t.Mutable {
		s += ", mutable"
	}
	return s + ">"
}

// PointerType is a pointer to global memory.
type PointerType struct {
	Pointee dtypes.DType
}

func (*PointerType) isType() {}

func (t *PointerType) String() string {
	return "!ptr<" + ElemName(t.Pointee) + ">"
}

// TypesEqual compares two types structurally.
func TypesEqual(a, b Type) bool {
	switch a := a.(type) {
	case *ScalarType:
		b, ok := b.(*ScalarType)
		return ok && a.DType == b.DType
	case *TensorType:
		b, ok := b.(*TensorType)
		return ok && a.DType == b.DType && slices.Equal(a.Shape, b.Shape)
	case *DescType:
		b, ok := b.(*DescType)
		return ok && TypesEqual(a.Block, b.Block) && a.Encoding.Equal(b.Encoding)
	case *MemDescType:
		b, ok := b.(*MemDescType)
		return ok && a.DType == b.DType && slices.Equal(a.Shape, b.Shape) &&
			a.Encoding.Equal(b.Encoding) && a.Mutable == b.Mutable
	case *PointerType:
		b, ok := b.(*PointerType)
		return ok && a.Pointee == b.Pointee
	default:
		return false
	}
}
