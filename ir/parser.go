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
	"strconv"
	"strings"
	"unicode"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokValue
	tokSymbol
	tokIdent
	tokInt
	tokString
	tokType
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '$'
}

// lex splits src into tokens. Type literals (tensor<...>, !desc<...>) are
// kept whole so that the parser can hand them to parseType.
func lex(file, src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	line, col := 1, 1
	i := 0
	advance := func(n int) {
		for k := 0; k < n && i < len(runes); k++ {
			if runes[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}
	// angle returns the end (exclusive) of a <...> group starting at j.
	angle := func(j int) (int, bool) {
		depth := 0
		for ; j < len(runes); j++ {
			switch runes[j] {
			case '<':
				depth++
			case '>':
				depth--
				if depth == 0 {
					return j + 1, true
				}
			case '\n':
				return 0, false
			}
		}
		return 0, false
	}
	identEnd := func(j int) int {
		for j < len(runes) && isIdentRune(runes[j]) {
			j++
		}
		return j
	}

	for i < len(runes) {
		r := runes[i]
		startLine, startCol := line, col
		emit := func(kind tokenKind, end int) {
			toks = append(toks, token{kind: kind, text: string(runes[i:end]), line: startLine, col: startCol})
			advance(end - i)
		}
		switch {
		case unicode.IsSpace(r):
			advance(1)
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				advance(1)
			}
		case r == '%' || r == '@':
			end := identEnd(i + 1)
			if end == i+1 {
				return nil, errors.Errorf("%s:%d:%d: expected name after %q", file, line, col, r)
			}
			kind := tokValue
			if r == '@' {
				kind = tokSymbol
			}
			toks = append(toks, token{kind: kind, text: string(runes[i+1 : end]), line: startLine, col: startCol})
			advance(end - i)
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' && runes[j] != '\n' {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(runes) || runes[j] != '"' {
				return nil, errors.Errorf("%s:%d:%d: unterminated string", file, line, col)
			}
			s, err := strconv.Unquote(string(runes[i : j+1]))
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d:%d: bad string", file, line, col)
			}
			toks = append(toks, token{kind: tokString, text: s, line: startLine, col: startCol})
			advance(j + 1 - i)
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			emit(tokInt, j)
		case r == '!':
			end := identEnd(i + 1)
			if end >= len(runes) || runes[end] != '<' {
				return nil, errors.Errorf("%s:%d:%d: malformed type", file, line, col)
			}
			close, ok := angle(end)
			if !ok {
				return nil, errors.Errorf("%s:%d:%d: unbalanced '<' in type", file, line, col)
			}
			emit(tokType, close)
		case isIdentRune(r):
			end := identEnd(i)
			if string(runes[i:end]) == "tensor" && end < len(runes) && runes[end] == '<' {
				close, ok := angle(end)
				if !ok {
					return nil, errors.Errorf("%s:%d:%d: unbalanced '<' in type", file, line, col)
				}
				emit(tokType, close)
				continue
			}
			emit(tokIdent, end)
		case strings.ContainsRune("()[]{},:=", r):
			emit(tokPunct, i+1)
		default:
			return nil, errors.Errorf("%s:%d:%d: unexpected character %q", file, line, col, r)
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line, col: col})
	return toks, nil
}

// splitTop splits s at commas that are not nested inside <...>.
func splitTop(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// ParseType parses a type literal such as "i32", "tensor<128x64xf16>" or
// "!desc<128x64xf16, #shared<swizzle=128, bits=16>>".
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if dt, ok := ParseElem(s); ok {
		return Scalar(dt), nil
	}
	head, body, ok := strings.Cut(s, "<")
	if !ok || !strings.HasSuffix(body, ">") {
		return nil, errors.Errorf("unknown type %q", s)
	}
	parts := splitTop(strings.TrimSuffix(body, ">"))
	switch head {
	case "tensor":
		if len(parts) != 1 {
			return nil, errors.Errorf("tensor type %q takes no attributes", s)
		}
		shape, dt, err := parseShapeElem(parts[0])
		if err != nil {
			return nil, err
		}
		return &TensorType{Shape: shape, DType: dt}, nil
	case "!desc":
		shape, dt, err := parseShapeElem(parts[0])
		if err != nil {
			return nil, err
		}
		t := &DescType{Block: &TensorType{Shape: shape, DType: dt}}
		for _, p := range parts[1:] {
			if t.Encoding, err = parseEncoding(p); err != nil {
				return nil, err
			}
		}
		return t, nil
	case "!memdesc":
		shape, dt, err := parseShapeElem(parts[0])
		if err != nil {
			return nil, err
		}
		t := &MemDescType{Shape: shape, DType: dt}
		for _, p := range parts[1:] {
			if p == "mutable" {
				t.Mutable = true
				continue
			}
			if t.Encoding, err = parseEncoding(p); err != nil {
				return nil, err
			}
		}
		return t, nil
	case "!ptr":
		dt, ok := ParseElem(parts[0])
		if !ok || len(parts) != 1 {
			return nil, errors.Errorf("bad pointer type %q", s)
		}
		return &PointerType{Pointee: dt}, nil
	default:
		return nil, errors.Errorf("unknown type %q", s)
	}
}

// parseShapeElem parses "128x64xf16" (or just "f16" for rank 0).
func parseShapeElem(s string) ([]int64, dtypes.DType, error) {
	fields := strings.Split(strings.TrimSpace(s), "x")
	dt, ok := ParseElem(fields[len(fields)-1])
	if !ok {
		return nil, dtypes.InvalidDType, errors.Errorf("unknown element type in %q", s)
	}
	shape := make([]int64, 0, len(fields)-1)
	for _, f := range fields[:len(fields)-1] {
		d, err := strconv.ParseInt(f, 10, 64)
		if err != nil || d <= 0 {
			return nil, dtypes.InvalidDType, errors.Errorf("bad dimension %q in %q", f, s)
		}
		shape = append(shape, d)
	}
	return shape, dt, nil
}

// parseEncoding parses "#shared<swizzle=128, bits=16[, transposed][, fp4_padded]>".
func parseEncoding(s string) (*SharedEncoding, error) {
	body, ok := strings.CutPrefix(s, "#shared<")
	if !ok || !strings.HasSuffix(body, ">") {
		return nil, errors.Errorf("unknown encoding %q", s)
	}
	enc := &SharedEncoding{}
	for _, p := range splitTop(strings.TrimSuffix(body, ">")) {
		key, val, hasVal := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !hasVal {
			switch key {
			case "transposed":
				enc.Transposed = true
			case "fp4_padded":
				enc.FP4Padded = true
			default:
				return nil, errors.Errorf("unknown encoding flag %q in %q", key, s)
			}
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %q", s)
		}
		switch key {
		case "swizzle":
			enc.SwizzleBytes = n
		case "bits":
			enc.ElementBits = n
		default:
			return nil, errors.Errorf("unknown encoding parameter %q in %q", key, s)
		}
	}
	return enc, nil
}

// parser builds IR from tokens.
type parser struct {
	file string
	toks []token
	pos  int

	fn    *IRFunction
	b     *Builder
	scope map[string]*Value
}

// Parse parses a source holding exactly one function.
func Parse(file, src string) (*IRFunction, error) {
	m, err := ParseModule(file, src)
	if err != nil {
		return nil, err
	}
	if len(m.Functions) != 1 {
		return nil, errors.Errorf("%s: expected exactly one function, found %d", file, len(m.Functions))
	}
	return m.Functions[0], nil
}

// ParseModule parses every function in src.
func ParseModule(file, src string) (*Module, error) {
	toks, err := lex(file, src)
	if err != nil {
		return nil, err
	}
	p := &parser{file: file, toks: toks}
	m := &Module{}
	for p.peek().kind != tokEOF {
		fn, err := p.function()
		if err != nil {
			return nil, err
		}
		if m.Lookup(fn.Name) != nil {
			return nil, errors.Errorf("%s: function @%s defined twice", file, fn.Name)
		}
		m.Functions = append(m.Functions, fn)
	}
	return m, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return errors.Errorf("%s:%d:%d: %s", p.file, t.line, t.col, fmt.Sprintf(format, args...))
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) isIdent(s string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == s
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return p.errorf(t, "expected %q, found %q", s, t.text)
	}
	return nil
}

func (p *parser) expectIdent(s string) error {
	t := p.next()
	if t.kind != tokIdent || t.text != s {
		return p.errorf(t, "expected %q, found %q", s, t.text)
	}
	return nil
}

func (p *parser) expectInt() (int64, error) {
	t := p.next()
	if t.kind != tokInt {
		return 0, p.errorf(t, "expected integer, found %q", t.text)
	}
	n, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, p.errorf(t, "bad integer %q", t.text)
	}
	return n, nil
}

func (p *parser) typ() (Type, error) {
	t := p.next()
	if t.kind != tokType && t.kind != tokIdent {
		return nil, p.errorf(t, "expected type, found %q", t.text)
	}
	ty, err := ParseType(t.text)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s:%d:%d", p.file, t.line, t.col)
	}
	return ty, nil
}

// define registers a result name, rejecting redefinitions.
func (p *parser) define(t token) error {
	if _, ok := p.scope[t.text]; ok {
		return p.errorf(t, "redefinition of %%%s", t.text)
	}
	p.scope[t.text] = nil
	return nil
}

func (p *parser) bind(vs ...*Value) {
	for _, v := range vs {
		p.scope[v.Name] = v
	}
}

func (p *parser) value() (*Value, error) {
	t := p.next()
	if t.kind != tokValue {
		return nil, p.errorf(t, "expected value, found %q", t.text)
	}
	v := p.scope[t.text]
	if v == nil {
		return nil, p.errorf(t, "use of undefined value %%%s", t.text)
	}
	return v, nil
}

// valueList parses "%a, %b" up to (not including) the closing punctuation.
func (p *parser) valueList(close string) ([]*Value, error) {
	var vs []*Value
	for !p.isPunct(close) {
		if len(vs) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// access parses "%desc[%i, %j]".
func (p *parser) access() (*Value, []*Value, error) {
	desc, err := p.value()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, nil, err
	}
	indices, err := p.valueList("]")
	if err != nil {
		return nil, nil, err
	}
	return desc, indices, p.expectPunct("]")
}

// shapeAndStrides parses "%base[%s0, %s1], [%st0, %st1]".
func (p *parser) shapeAndStrides() ([]*Value, error) {
	base, shape, err := p.access()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	strides, err := p.valueList("]")
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	if len(shape) != len(strides) {
		return nil, p.errorf(p.peek(), "shape has %d entries but strides has %d", len(shape), len(strides))
	}
	return append(append([]*Value{base}, shape...), strides...), nil
}

// attrs parses "{key = value, ...}".
func (p *parser) attrs() (map[string]token, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	m := make(map[string]token)
	for !p.isPunct("}") {
		if len(m) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		key := p.next()
		if key.kind != tokIdent {
			return nil, p.errorf(key, "expected attribute name, found %q", key.text)
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		m[key.text] = p.next()
	}
	return m, p.expectPunct("}")
}

func (p *parser) intAttr(m map[string]token, key string) (int, error) {
	t, ok := m[key]
	if !ok {
		return 0, p.errorf(p.peek(), "missing attribute %q", key)
	}
	n, err := strconv.Atoi(t.text)
	if t.kind != tokInt || err != nil {
		return 0, p.errorf(t, "attribute %q must be an integer", key)
	}
	return n, nil
}

// loc parses an optional trailing loc("file":line:col).
func (p *parser) loc() (Location, error) {
	if !p.isIdent("loc") {
		return Location{}, nil
	}
	p.next()
	if err := p.expectPunct("("); err != nil {
		return Location{}, err
	}
	file := p.next()
	if file.kind != tokString {
		return Location{}, p.errorf(file, "expected file name in loc")
	}
	if err := p.expectPunct(":"); err != nil {
		return Location{}, err
	}
	line, err := p.expectInt()
	if err != nil {
		return Location{}, err
	}
	if err := p.expectPunct(":"); err != nil {
		return Location{}, err
	}
	col, err := p.expectInt()
	if err != nil {
		return Location{}, err
	}
	return Location{File: file.text, Line: int(line), Col: int(col)}, p.expectPunct(")")
}

func (p *parser) function() (*IRFunction, error) {
	if err := p.expectIdent("func"); err != nil {
		return nil, err
	}
	name := p.next()
	if name.kind != tokSymbol {
		return nil, p.errorf(name, "expected function name, found %q", name.text)
	}
	p.fn = NewFunction(name.text)
	p.b = NewBuilder(p.fn)
	p.scope = make(map[string]*Value)
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.isPunct(")") {
		if len(p.fn.Params) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		t := p.next()
		if t.kind != tokValue {
			return nil, p.errorf(t, "expected parameter, found %q", t.text)
		}
		if err := p.define(t); err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		ty, err := p.typ()
		if err != nil {
			return nil, err
		}
		p.bind(p.fn.AddParam(t.text, ty))
	}
	p.next()
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if err := p.block(nil); err != nil {
		return nil, err
	}
	return p.fn, nil
}

// block parses nodes into loop's body (or the function body) up to and
// including the closing brace.
func (p *parser) block(loop *IRNode) error {
	for !p.isPunct("}") {
		if p.peek().kind == tokEOF {
			return p.errorf(p.peek(), "unexpected end of input, missing '}'")
		}
		if err := p.node(loop); err != nil {
			return err
		}
	}
	closing := p.next()
	if loop != nil && loop.Terminator() == nil {
		return p.errorf(closing, "loop body must end with yield")
	}
	return nil
}

func (p *parser) node(loop *IRNode) error {
	var results []token
	if p.peek().kind == tokValue {
		for {
			t := p.next()
			if t.kind != tokValue {
				return p.errorf(t, "expected result name, found %q", t.text)
			}
			if err := p.define(t); err != nil {
				return err
			}
			results = append(results, t)
			if !p.isPunct(",") {
				break
			}
			p.next()
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
	}
	kw := p.next()
	if kw.kind != tokIdent {
		return p.errorf(kw, "expected operation, found %q", kw.text)
	}
	kind, ok := opKindByName[kw.text]
	if !ok {
		return p.errorf(kw, "unknown operation %q", kw.text)
	}
	names := make([]string, len(results))
	for i, t := range results {
		names[i] = t.text
	}
	p.b.SetInsertionPointToEnd(loop)

	node, err := p.op(kind, kw, names)
	if err != nil {
		return err
	}
	if len(node.Results) != len(results) {
		return p.errorf(kw, "%s produces %d results, %d names given", kind, len(node.Results), len(results))
	}
	if kind == OpKindLoop {
		// loc was consumed before the body.
		return nil
	}
	loc, err := p.loc()
	if err != nil {
		return err
	}
	node.Loc = loc
	return nil
}

// op parses the operands of one operation and creates it.
func (p *parser) op(kind OpKind, kw token, names []string) (*IRNode, error) {
	b := p.b.Named(names...)
	switch kind {
	case OpKindConstant:
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		ty, err := p.typ()
		if err != nil {
			return nil, err
		}
		st, ok := ty.(*ScalarType)
		if !ok {
			return nil, p.errorf(kw, "constant must have a scalar type, got %s", ty)
		}
		return p.result(b.Constant(n, st))

	case OpKindCompute:
		name := p.next()
		if name.kind != tokString {
			return nil, p.errorf(name, "expected operation name string")
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		operands, err := p.valueList(")")
		if err != nil {
			return nil, err
		}
		p.next()
		var types []Type
		if p.isPunct(":") {
			p.next()
			for {
				ty, err := p.typ()
				if err != nil {
					return nil, err
				}
				types = append(types, ty)
				if !p.isPunct(",") {
					break
				}
				p.next()
			}
		}
		node := b.Compute(name.text, types, operands...)
		p.bind(node.Results...)
		return node, nil

	case OpKindLoop:
		return p.loop(kw, names)

	case OpKindYield:
		operands, err := p.trailingValues()
		if err != nil {
			return nil, err
		}
		return b.Yield(operands...), nil

	case OpKindMakeDescriptor:
		operands, err := p.shapeAndStrides()
		if err != nil {
			return nil, err
		}
		ty, err := p.descTypeAnnotation()
		if err != nil {
			return nil, err
		}
		rank := (len(operands) - 1) / 2
		return p.result(b.MakeDescriptor(operands[0], operands[1:1+rank], operands[1+rank:], ty))

	case OpKindDescriptorStore, OpKindDescriptorReduce, OpKindDescriptorScatter,
		OpKindAsyncCopyLocalToGlobal, OpKindAsyncReduce, OpKindAsyncScatter:
		return p.transfer(kind, kw)

	case OpKindLocalAlloc:
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		ty, err := p.typ()
		if err != nil {
			return nil, err
		}
		mt, ok := ty.(*MemDescType)
		if !ok {
			return nil, p.errorf(kw, "local_alloc must produce a memdesc, got %s", ty)
		}
		return p.result(b.LocalAlloc(mt))

	case OpKindLocalStore:
		src, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		buf, err := p.value()
		if err != nil {
			return nil, err
		}
		return b.LocalStore(src, buf), nil

	case OpKindLocalDealloc:
		buf, err := p.value()
		if err != nil {
			return nil, err
		}
		return b.LocalDealloc(buf), nil

	case OpKindAsyncStoreWait:
		m, err := p.attrs()
		if err != nil {
			return nil, err
		}
		pending, err := p.intAttr(m, "pending")
		if err != nil {
			return nil, err
		}
		return b.AsyncStoreWait(pending), nil

	case OpKindFenceAsyncShared:
		m, err := p.attrs()
		if err != nil {
			return nil, err
		}
		cluster := false
		if t, ok := m["cluster"]; ok {
			if cluster, err = strconv.ParseBool(t.text); err != nil {
				return nil, p.errorf(t, "attribute \"cluster\" must be a bool")
			}
		}
		return b.FenceAsyncShared(cluster), nil

	case OpKindGlobalScratchAlloc:
		m, err := p.attrs()
		if err != nil {
			return nil, err
		}
		nbytes, err := p.intAttr(m, "nbytes")
		if err != nil {
			return nil, err
		}
		alignment, err := p.intAttr(m, "alignment")
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		ty, err := p.typ()
		if err != nil {
			return nil, err
		}
		pt, ok := ty.(*PointerType)
		if !ok {
			return nil, p.errorf(kw, "global_scratch_alloc must produce a pointer, got %s", ty)
		}
		return p.result(b.GlobalScratchAlloc(nbytes, alignment, pt))

	case OpKindAddPtr:
		ptr, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		off, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		ty, err := p.typ()
		if err != nil {
			return nil, err
		}
		if !TypesEqual(ty, ptr.Type) {
			return nil, p.errorf(kw, "addptr result type %s differs from pointer type %s", ty, ptr.Type)
		}
		return p.result(b.AddPtr(ptr, off))

	case OpKindTensormapCreate:
		dst, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		operands, err := p.shapeAndStrides()
		if err != nil {
			return nil, err
		}
		ty, err := p.descTypeAnnotation()
		if err != nil {
			return nil, err
		}
		rank := (len(operands) - 1) / 2
		return b.TensormapCreate(dst, operands[0], operands[1:1+rank], operands[1+rank:], ty), nil

	case OpKindTensormapFenceProxyAcquire:
		ptr, err := p.value()
		if err != nil {
			return nil, err
		}
		return b.TensormapFenceProxyAcquire(ptr), nil

	case OpKindReinterpretDescriptor:
		ptr, err := p.value()
		if err != nil {
			return nil, err
		}
		ty, err := p.descTypeAnnotation()
		if err != nil {
			return nil, err
		}
		return p.result(b.ReinterpretDescriptor(ptr, ty))
	}
	return nil, p.errorf(kw, "unhandled operation %q", kw.text)
}

// result binds the results of a freshly created node and returns the node.
func (p *parser) result(vs ...*Value) (*IRNode, error) {
	if len(vs) == 0 {
		return nil, errors.New("internal error: operation without results")
	}
	p.bind(vs...)
	return vs[0].Def, nil
}

// trailingValues parses an optional comma separated value list that ends
// the operation.
func (p *parser) trailingValues() ([]*Value, error) {
	var vs []*Value
	for p.peek().kind == tokValue {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
		if !p.isPunct(",") {
			break
		}
		p.next()
	}
	return vs, nil
}

func (p *parser) descTypeAnnotation() (*DescType, error) {
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	t := p.peek()
	ty, err := p.typ()
	if err != nil {
		return nil, err
	}
	dt, ok := ty.(*DescType)
	if !ok {
		return nil, p.errorf(t, "expected descriptor type, got %s", ty)
	}
	return dt, nil
}

// transfer parses the descriptor writes and async issues:
//
//	desc_store %d[%i, %j], %src
//	desc_reduce add %d[%i, %j], %src
//	async_scatter %d[%xoffs, %y], %buf
func (p *parser) transfer(kind OpKind, kw token) (*IRNode, error) {
	var reduce ReduceKind
	if kind == OpKindDescriptorReduce || kind == OpKindAsyncReduce {
		t := p.next()
		var ok bool
		if reduce, ok = ParseReduceKind(t.text); !ok || t.kind != tokIdent {
			return nil, p.errorf(t, "unknown reduce kind %q", t.text)
		}
	}
	desc, indices, err := p.access()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	data, err := p.value()
	if err != nil {
		return nil, err
	}
	if (kind == OpKindDescriptorScatter || kind == OpKindAsyncScatter) && len(indices) != 2 {
		return nil, p.errorf(kw, "%s takes [xOffsets, yOffset], got %d operands", kind, len(indices))
	}
	b := p.b
	switch kind {
	case OpKindDescriptorStore:
		return b.DescriptorStore(desc, data, indices), nil
	case OpKindDescriptorReduce:
		return b.DescriptorReduce(reduce, desc, data, indices), nil
	case OpKindDescriptorScatter:
		return b.DescriptorScatter(desc, data, indices[0], indices[1]), nil
	case OpKindAsyncCopyLocalToGlobal:
		return b.AsyncCopyLocalToGlobal(desc, indices, data), nil
	case OpKindAsyncReduce:
		return b.AsyncReduce(reduce, desc, indices, data), nil
	default:
		return b.AsyncScatter(desc, indices[0], indices[1], data), nil
	}
}

// loop parses
//
//	for %i = %lb to %ub step %s [iter_args(%a = %init, ...)] [loc(...)] { ... }
func (p *parser) loop(kw token, names []string) (*IRNode, error) {
	ivTok := p.next()
	if ivTok.kind != tokValue {
		return nil, p.errorf(ivTok, "expected induction variable, found %q", ivTok.text)
	}
	if err := p.define(ivTok); err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	lb, err := p.value()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	ub, err := p.value()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("step"); err != nil {
		return nil, err
	}
	step, err := p.value()
	if err != nil {
		return nil, err
	}
	var iterNames []string
	var inits []*Value
	if p.isIdent("iter_args") {
		p.next()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for !p.isPunct(")") {
			if len(iterNames) > 0 {
				if err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
			t := p.next()
			if t.kind != tokValue {
				return nil, p.errorf(t, "expected iter arg name, found %q", t.text)
			}
			if err := p.define(t); err != nil {
				return nil, err
			}
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			init, err := p.value()
			if err != nil {
				return nil, err
			}
			iterNames = append(iterNames, t.text)
			inits = append(inits, init)
		}
		p.next()
	}
	if len(names) != 0 && len(names) != len(inits) {
		return nil, p.errorf(kw, "loop produces %d results, %d names given", len(inits), len(names))
	}
	loop := p.b.Named(names...).Loop(lb, ub, step, inits, ivTok.text, iterNames)
	p.bind(loop.Results...)
	p.bind(loop.Args...)
	if loop.Loc, err = p.loc(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	parent := loop.Parent
	if err := p.block(loop); err != nil {
		return nil, err
	}
	p.b.SetInsertionPointToEnd(parent)
	return loop, nil
}
