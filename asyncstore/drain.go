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
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// emitDrain waits for every copy still in flight after loop, then releases
// the staging buffers in creation order.
func emitDrain(b *ir.Builder, loop *ir.IRNode, plan *allocationPlan) {
	b.SetInsertionPointAfter(loop)
	b.SetLoc(loop.Loc)
	b.AsyncStoreWait(0)
	for _, buf := range plan.buffers {
		b.LocalDealloc(buf.value)
	}
}

// hasDeviceSideDescriptor returns true if any store writes through a
// descriptor computed by the kernel.
func hasDeviceSideDescriptor(t Target, stores []storeLike) bool {
	return lo.SomeBy(stores, func(s storeLike) bool {
		return !t.IsHostSideDescriptor(s.desc())
	})
}

// multiBufferDescriptors hands loop to the scheduler. Every descriptor built
// in the loop body gets multi-buffered, not only those feeding stores.
func multiBufferDescriptors(sched Scheduler, fn *ir.IRFunction, loop *ir.IRNode) error {
	if sched == nil {
		return errors.Errorf("loop at %s stores through device-side descriptors but no scheduler is configured", loop.Loc)
	}
	debugPrint("@%s: multi-buffering descriptors of loop at %s with %d stages", fn.Name, loop.Loc, DescriptorStages)
	if err := sched.MultiBufferDescriptors(fn, loop, DescriptorStages); err != nil {
		return errors.WithMessagef(err, "multi-buffering descriptors of loop at %s", loop.Loc)
	}
	return nil
}
