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
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// printer renders IR in the text format accepted by Parse.
type printer struct {
	buf    *bytes.Buffer
	indent int
}

// Print renders a function in the text format.
func Print(fn *IRFunction) string {
	p := &printer{buf: &bytes.Buffer{}}
	p.function(fn)
	return p.buf.String()
}

// PrintModule renders every function of a module, separated by blank lines.
func PrintModule(m *Module) string {
	p := &printer{buf: &bytes.Buffer{}}
	for i, fn := range m.Functions {
		if i > 0 {
			p.buf.WriteString("\n")
		}
		p.function(fn)
	}
	return p.buf.String()
}

func (p *printer) writef(format string, args ...any) {
	p.buf.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(p.buf, format, args...)
}

func (p *printer) function(fn *IRFunction) {
	params := make([]string, len(fn.Params))
	for i, v := range fn.Params {
		params[i] = v.String() + ": " + v.Type.String()
	}
	p.writef("func @%s(%s) {\n", fn.Name, strings.Join(params, ", "))
	p.indent++
	p.nodes(fn.Operations)
	p.indent--
	p.writef("}\n")
}

func (p *printer) nodes(nodes []*IRNode) {
	for _, n := range nodes {
		p.node(n)
	}
}

func valueList(vs []*Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func typeList(vs []*Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Type.String()
	}
	return strings.Join(parts, ", ")
}

func locSuffix(loc Location) string {
	if !loc.IsKnown() {
		return ""
	}
	return fmt.Sprintf(" loc(%s:%d:%d)", strconv.Quote(loc.File), loc.Line, loc.Col)
}

// descAccess renders "%desc[%a, %b]".
func descAccess(desc *Value, indices []*Value) string {
	return desc.String() + "[" + valueList(indices) + "]"
}

// shapeAndStrides renders "%base[%s0, %s1], [%st0, %st1]" for operands laid
// out as [base, shape..., strides...].
func shapeAndStrides(operands []*Value) string {
	rank := (len(operands) - 1) / 2
	return descAccess(operands[0], operands[1:1+rank]) + ", [" + valueList(operands[1+rank:]) + "]"
}

func (p *printer) node(n *IRNode) {
	lhs := ""
	if len(n.Results) > 0 {
		lhs = valueList(n.Results) + " = "
	}
	loc := locSuffix(n.Loc)
	ops := n.Operands

	switch n.Kind {
	case OpKindConstant:
		p.writef("%sconstant %d : %s%s\n", lhs, n.Const, n.Result().Type, loc)
	case OpKindCompute:
		types := ""
		if len(n.Results) > 0 {
			types = " : " + typeList(n.Results)
		}
		p.writef("%scompute %s(%s)%s%s\n", lhs, strconv.Quote(n.Name), valueList(ops), types, loc)
	case OpKindLoop:
		iter := ""
		if len(n.IterArgs()) > 0 {
			pairs := make([]string, len(n.IterArgs()))
			for i, arg := range n.IterArgs() {
				pairs[i] = arg.String() + " = " + n.IterInits()[i].String()
			}
			iter = " iter_args(" + strings.Join(pairs, ", ") + ")"
		}
		p.writef("%sfor %s = %s to %s step %s%s%s {\n", lhs, n.InductionVar(), ops[0], ops[1], ops[2], iter, loc)
		p.indent++
		p.nodes(n.Children)
		p.indent--
		p.writef("}\n")
	case OpKindYield:
		if len(ops) == 0 {
			p.writef("yield%s\n", loc)
		} else {
			p.writef("yield %s%s\n", valueList(ops), loc)
		}
	case OpKindMakeDescriptor:
		p.writef("%smake_desc %s : %s%s\n", lhs, shapeAndStrides(ops), n.Result().Type, loc)
	case OpKindDescriptorStore:
		p.writef("desc_store %s, %s%s\n", descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindDescriptorReduce:
		p.writef("desc_reduce %s %s, %s%s\n", n.ReduceKind, descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindDescriptorScatter:
		p.writef("desc_scatter %s, %s%s\n", descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindLocalAlloc:
		p.writef("%slocal_alloc : %s%s\n", lhs, n.Result().Type, loc)
	case OpKindLocalStore:
		p.writef("local_store %s, %s%s\n", ops[0], ops[1], loc)
	case OpKindLocalDealloc:
		p.writef("local_dealloc %s%s\n", ops[0], loc)
	case OpKindAsyncStoreWait:
		p.writef("async_store_wait {pending = %d}%s\n", n.Pending, loc)
	case OpKindFenceAsyncShared:
		p.writef("fence_async_shared {cluster = %t}%s\n", n.Cluster, loc)
	case OpKindAsyncCopyLocalToGlobal:
		p.writef("async_copy_local_to_global %s, %s%s\n", descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindAsyncReduce:
		p.writef("async_reduce %s %s, %s%s\n", n.ReduceKind, descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindAsyncScatter:
		p.writef("async_scatter %s, %s%s\n", descAccess(ops[0], ops[2:]), ops[1], loc)
	case OpKindGlobalScratchAlloc:
		p.writef("%sglobal_scratch_alloc {nbytes = %d, alignment = %d} : %s%s\n",
			lhs, n.NBytes, n.Alignment, n.Result().Type, loc)
	case OpKindAddPtr:
		p.writef("%saddptr %s, %s : %s%s\n", lhs, ops[0], ops[1], n.Result().Type, loc)
	case OpKindTensormapCreate:
		p.writef("tensormap_create %s, %s : %s%s\n", ops[0], shapeAndStrides(ops[1:]), n.DescType, loc)
	case OpKindTensormapFenceProxyAcquire:
		p.writef("tensormap_fenceproxy_acquire %s%s\n", ops[0], loc)
	case OpKindReinterpretDescriptor:
		p.writef("%sreinterpret_desc %s : %s%s\n", lhs, ops[0], n.Result().Type, loc)
	default:
		p.writef("// unknown %s\n", n)
	}
}
