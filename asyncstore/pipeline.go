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

// Package asyncstore overlaps the descriptor stores of a loop body with the
// loop's compute by moving them onto the async copy engine.
//
// Each desc_store, desc_reduce and desc_scatter directly in the loop body is
// replaced in place by
//
//	async_store_wait {pending = 0}
//	local_store %src, %buf
//	fence_async_shared {cluster = false}
//	async_copy_local_to_global %desc[...], %buf   (or async_reduce, async_scatter)
//
// where %buf is a shared memory staging buffer allocated before the loop and
// shared by every store with the same shape and element type. After the loop
// a single wait drains the in-flight copies and the buffers are released.
// The wait in front of every local_store guarantees a buffer is never
// overwritten while an earlier copy may still be reading it, including the
// copy issued by the previous iteration.
//
// When a stored descriptor is built inside the function rather than passed
// in by the host, the loop is handed to a Scheduler that multi-buffers the
// descriptor constructions of the loop body.
package asyncstore

import (
	"log/slog"

	"github.com/ajroetker/asyncpipe/ir"
	"github.com/pkg/errors"
)

// DescriptorStages is the pipeline depth requested from the Scheduler when
// descriptors built inside the loop must be multi-buffered.
const DescriptorStages = 3

// Target answers the hardware questions the rewrite depends on.
// Implementations must be safe for concurrent use when passed to RunModule.
type Target interface {
	// EncodingFromDescriptor returns the shared memory layout compatible
	// with copying a tensor of type ty through desc. op is the store being
	// rewritten, for diagnostics.
	EncodingFromDescriptor(op *ir.IRNode, ty *ir.TensorType, desc *ir.Value) (*ir.SharedEncoding, error)

	// TranslateIndices converts logical block indices into the coordinates
	// the copy engine expects for enc, emitting any needed arithmetic at the
	// builder's insertion point.
	TranslateIndices(b *ir.Builder, loc ir.Location, enc *ir.SharedEncoding, indices []*ir.Value) ([]*ir.Value, error)

	// IsHostSideDescriptor returns true if desc is prepared by the host
	// before launch rather than computed by the kernel.
	IsHostSideDescriptor(desc *ir.Value) bool
}

// Scheduler multi-buffers the device-side descriptor constructions of a loop.
type Scheduler interface {
	MultiBufferDescriptors(fn *ir.IRFunction, loop *ir.IRNode, maxStages int) error
}

// Pipeliner rewrites the descriptor stores of loops into async copies.
type Pipeliner struct {
	target    Target
	scheduler Scheduler
	logger    *slog.Logger
	workers   int
}

// Option configures a Pipeliner.
type Option func(*Pipeliner)

// WithLogger sets the logger receiving per-loop progress at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeliner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkers sets the number of functions RunModule processes in parallel.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Pipeliner) {
		p.workers = n
	}
}

// New creates a Pipeliner. Both target and scheduler are required.
func New(target Target, scheduler Scheduler, opts ...Option) *Pipeliner {
	p := &Pipeliner{
		target:    target,
		scheduler: scheduler,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats summarizes the work done by Run or RunModule.
type Stats struct {
	// Loops is the number of loops visited.
	Loops int

	// Pipelined is the number of loops that had stores rewritten.
	Pipelined int

	// Stores is the number of store-like operations rewritten.
	Stores int

	// Buffers is the number of staging buffers allocated.
	Buffers int

	// MultiBuffered is the number of loops handed to the Scheduler.
	MultiBuffered int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Loops += other.Loops
	s.Pipelined += other.Pipelined
	s.Stores += other.Stores
	s.Buffers += other.Buffers
	s.MultiBuffered += other.MultiBuffered
}

// PipelineAsyncStores rewrites the stores directly in loop's body. It returns
// false, leaving the function untouched, when the body has no store to
// rewrite.
//
// An error from EncodingFromDescriptor is returned before anything is
// modified. Errors from TranslateIndices or the Scheduler are returned after
// the rewrite has started; the function must then be discarded.
func (p *Pipeliner) PipelineAsyncStores(fn *ir.IRFunction, loop *ir.IRNode) (bool, error) {
	var stats Stats
	if err := p.pipelineLoop(fn, loop, &stats); err != nil {
		return false, err
	}
	return stats.Pipelined > 0, nil
}

func (p *Pipeliner) pipelineLoop(fn *ir.IRFunction, loop *ir.IRNode, stats *Stats) error {
	if loop == nil || loop.Kind != ir.OpKindLoop {
		return errors.Errorf("@%s: PipelineAsyncStores needs a loop, got %v", fn.Name, loop)
	}
	stats.Loops++

	stores := collectStores(loop)
	if len(stores) == 0 {
		debugPrint("@%s: no stores in loop at %s", fn.Name, loop.Loc)
		return nil
	}

	plan, err := planAllocations(p.target, stores)
	if err != nil {
		return errors.WithMessagef(err, "@%s", fn.Name)
	}
	deviceSide := hasDeviceSideDescriptor(p.target, stores)

	b := ir.NewBuilder(fn)
	plan.materialize(b, loop)
	for _, s := range stores {
		if err := rewriteStore(b, p.target, s, plan.bufferFor(s)); err != nil {
			return errors.WithMessagef(err, "@%s", fn.Name)
		}
	}
	emitDrain(b, loop, plan)

	stats.Pipelined++
	stats.Stores += len(stores)
	stats.Buffers += len(plan.buffers)
	debugPrint("@%s: loop at %s: %d stores, %d buffers, device-side descriptors: %t",
		fn.Name, loop.Loc, len(stores), len(plan.buffers), deviceSide)
	p.logger.Debug("pipelined async stores",
		"function", fn.Name,
		"loop", loop.Loc.String(),
		"stores", len(stores),
		"buffers", len(plan.buffers))

	if deviceSide {
		if err := multiBufferDescriptors(p.scheduler, fn, loop); err != nil {
			return errors.WithMessagef(err, "@%s", fn.Name)
		}
		stats.MultiBuffered++
	}
	return nil
}

// Run pipelines every loop of fn, inner loops before the loops containing
// them.
func (p *Pipeliner) Run(fn *ir.IRFunction) (Stats, error) {
	var stats Stats
	for _, loop := range ir.PostOrderLoops(fn.Operations) {
		if err := p.pipelineLoop(fn, loop, &stats); err != nil {
			return stats, err
		}
	}
	p.logger.Debug("function done",
		"function", fn.Name,
		"loops", stats.Loops,
		"pipelined", stats.Pipelined)
	return stats, nil
}
