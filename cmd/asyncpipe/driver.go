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

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ajroetker/asyncpipe/asyncstore"
	"github.com/ajroetker/asyncpipe/descbuf"
	"github.com/ajroetker/asyncpipe/ir"
	"github.com/ajroetker/asyncpipe/target"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// driver runs the pass over a set of IR files.
type driver struct {
	target  target.Target
	outDir  string
	workers int
	logger  *slog.Logger
}

// processFile parses, pipelines and verifies one file and returns the
// rewritten text.
func (d *driver) processFile(path string) (string, asyncstore.Stats, error) {
	var stats asyncstore.Stats
	data, err := os.ReadFile(path)
	if err != nil {
		return "", stats, errors.Wrapf(err, "reading input")
	}
	mod, err := ir.ParseModule(path, string(data))
	if err != nil {
		return "", stats, err
	}
	for _, fn := range mod.Functions {
		if err := ir.Verify(fn); err != nil {
			return "", stats, errors.WithMessagef(err, "%s: invalid input @%s", path, fn.Name)
		}
	}

	if !d.target.AsyncStores {
		d.logger.Info("target has no async stores, leaving input unchanged",
			"file", path, "target", d.target.Name)
		return ir.PrintModule(mod), stats, nil
	}

	p := asyncstore.New(d.target, descbuf.CoarseScheduler{},
		asyncstore.WithLogger(d.logger),
		asyncstore.WithWorkers(d.workers))
	stats, err = p.RunModule(mod)
	if err != nil {
		return "", stats, errors.WithMessagef(err, "%s", path)
	}
	for _, fn := range mod.Functions {
		if err := ir.Verify(fn); err != nil {
			return "", stats, errors.WithMessagef(err, "%s: pipelined @%s does not verify", path, fn.Name)
		}
	}
	d.logger.Info("pipelined",
		"file", path,
		"loops", stats.Pipelined,
		"stores", stats.Stores,
		"buffers", stats.Buffers)
	return ir.PrintModule(mod), stats, nil
}

// run processes paths concurrently. With an output directory each result is
// written next to its base name there; otherwise results go to stdout in
// input order.
func (d *driver) run(ctx context.Context, paths []string, stdout io.Writer) (asyncstore.Stats, error) {
	var total asyncstore.Stats
	if d.outDir != "" {
		seen := make(map[string]string, len(paths))
		for _, path := range paths {
			base := filepath.Base(path)
			if prev, ok := seen[base]; ok {
				return total, errors.Errorf("inputs %s and %s would both be written to %s", prev, path, base)
			}
			seen[base] = path
		}
		if err := os.MkdirAll(d.outDir, 0o755); err != nil {
			return total, errors.Wrapf(err, "creating output directory")
		}
	}

	outputs := make([]string, len(paths))
	stats := make([]asyncstore.Stats, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if d.workers > 0 {
		g.SetLimit(d.workers)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, s, err := d.processFile(path)
			if err != nil {
				return err
			}
			stats[i] = s
			if d.outDir == "" {
				outputs[i] = out
				return nil
			}
			dst := filepath.Join(d.outDir, filepath.Base(path))
			if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
				return errors.Wrapf(err, "writing %s", dst)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}

	for _, s := range stats {
		total.Add(s)
	}
	if d.outDir == "" {
		for _, out := range outputs {
			if _, err := io.WriteString(stdout, out); err != nil {
				return total, errors.Wrapf(err, "writing output")
			}
		}
	}
	return total, nil
}
