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
	"github.com/ajroetker/asyncpipe/ir"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// rewriteStore replaces s by the wait, local_store, fence and async issue
// sequence staging through buf, then erases s.
func rewriteStore(b *ir.Builder, t Target, s storeLike, buf *ir.Value) error {
	op := s.node()
	b.SetInsertionPoint(op)
	b.SetLoc(s.loc())

	// The previous copy out of buf, possibly issued by the previous
	// iteration, must be done before buf is overwritten.
	b.AsyncStoreWait(0)
	b.LocalStore(s.src(), buf)
	b.FenceAsyncShared(false)

	desc := s.desc()
	switch s := s.(type) {
	case descStore:
		indices, err := translateIndices(b, t, s, s.indices())
		if err != nil {
			return err
		}
		b.AsyncCopyLocalToGlobal(desc, indices, buf)
	case descReduce:
		indices, err := translateIndices(b, t, s, s.indices())
		if err != nil {
			return err
		}
		b.AsyncReduce(s.kind(), desc, indices, buf)
	case descScatter:
		b.AsyncScatter(desc, s.xOffsets(), s.yOffset(), buf)
	default:
		exceptions.Panicf("asyncstore: unexpected store-like operation %T at %s", s, s.loc())
	}

	b.Function().Erase(op)
	return nil
}

// translateIndices converts the block indices of s for the layout of its
// descriptor.
func translateIndices(b *ir.Builder, t Target, s storeLike, indices []*ir.Value) ([]*ir.Value, error) {
	var enc *ir.SharedEncoding
	if dt, ok := s.desc().Type.(*ir.DescType); ok {
		enc = dt.Encoding
	}
	translated, err := t.TranslateIndices(b, s.loc(), enc, indices)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s at %s: translating indices", s.node().Kind, s.loc())
	}
	return translated, nil
}
