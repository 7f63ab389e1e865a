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
	"github.com/ajroetker/asyncpipe/internal/workerpool"
	"github.com/ajroetker/asyncpipe/ir"
	"github.com/samber/lo"
)

// RunModule runs Run on every function of mod. Functions share no IR, so
// they are processed in parallel; the Target and Scheduler must be safe for
// concurrent use. The returned error is that of the first failing function
// in module order.
func (p *Pipeliner) RunModule(mod *ir.Module) (Stats, error) {
	pool := workerpool.New(p.workers)
	defer pool.Close()

	perFunc := make([]Stats, len(mod.Functions))
	err := pool.Each(len(mod.Functions), func(i int) error {
		var err error
		perFunc[i], err = p.Run(mod.Functions[i])
		return err
	})

	total := lo.Reduce(perFunc, func(acc Stats, s Stats, _ int) Stats {
		acc.Add(s)
		return acc
	}, Stats{})
	p.logger.Debug("module done",
		"functions", len(mod.Functions),
		"pipelined", total.Pipelined,
		"stores", total.Stores)
	return total, err
}
