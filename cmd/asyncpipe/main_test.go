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
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajroetker/asyncpipe/asyncstore"
	"github.com/ajroetker/asyncpipe/ir"
	"github.com/ajroetker/asyncpipe/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kernelSrc = `func @epilogue(%d: !desc<64x64xf16>, %n: i32) {
  %c0 = constant 0 : i32
  %c1 = constant 1 : i32
  for %i = %c0 to %n step %c1 {
    %y = compute "tile"(%i) : tensor<64x64xf16>
    desc_store %d[%i, %c0], %y
    yield
  }
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestDriver(tgt target.Target, outDir string) *driver {
	return &driver{
		target:  tgt,
		outDir:  outDir,
		workers: 2,
		logger:  slog.New(slog.DiscardHandler),
	}
}

func TestProcessFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "k.ir", kernelSrc)

	out, stats, err := newTestDriver(target.SM90Target(), "").processFile(path)
	require.NoError(t, err)
	assert.Equal(t, asyncstore.Stats{Loops: 1, Pipelined: 1, Stores: 1, Buffers: 1}, stats)
	assert.Contains(t, out, "local_alloc")
	assert.Contains(t, out, "async_copy_local_to_global")
	assert.NotContains(t, out, "desc_store")

	// The output parses and verifies.
	mod, err := ir.ParseModule("out.ir", out)
	require.NoError(t, err)
	for _, fn := range mod.Functions {
		require.NoError(t, ir.Verify(fn))
	}
}

func TestProcessFileWithoutAsyncStores(t *testing.T) {
	path := writeFile(t, t.TempDir(), "k.ir", kernelSrc)

	out, stats, err := newTestDriver(target.SM80Target(), "").processFile(path)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Equal(t, kernelSrc, out)
}

func TestProcessFileErrors(t *testing.T) {
	dir := t.TempDir()
	d := newTestDriver(target.SM90Target(), "")

	_, _, err := d.processFile(filepath.Join(dir, "missing.ir"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading input")

	bad := writeFile(t, dir, "bad.ir", "func @f( {\n")
	_, _, err = d.processFile(bad)
	require.Error(t, err)

	invalid := writeFile(t, dir, "invalid.ir", `func @f(%x: tensor<16xf32>, %n: i32) {
  %c0 = constant 0 : i32
  %c1 = constant 1 : i32
  for %i = %c0 to %n step %c1 {
    yield %x
  }
}
`)
	_, _, err = d.processFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input @f")
}

func TestRunToStdout(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ir", kernelSrc)
	b := writeFile(t, dir, "b.ir", strings.ReplaceAll(kernelSrc, "@epilogue", "@other"))

	var stdout bytes.Buffer
	stats, err := newTestDriver(target.SM90Target(), "").run(context.Background(), []string{a, b}, &stdout)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pipelined)

	// Results are printed in input order.
	out := stdout.String()
	first := strings.Index(out, "@epilogue")
	second := strings.Index(out, "@other")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}

func TestRunToDirectory(t *testing.T) {
	in := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	a := writeFile(t, in, "a.ir", kernelSrc)

	var stdout bytes.Buffer
	_, err := newTestDriver(target.SM100Target(), outDir).run(context.Background(), []string{a}, &stdout)
	require.NoError(t, err)
	assert.Zero(t, stdout.Len())

	data, err := os.ReadFile(filepath.Join(outDir, "a.ir"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "async_copy_local_to_global")
}

func TestRunRejectsClashingOutputs(t *testing.T) {
	a := writeFile(t, t.TempDir(), "k.ir", kernelSrc)
	b := writeFile(t, t.TempDir(), "k.ir", kernelSrc)

	_, err := newTestDriver(target.SM90Target(), t.TempDir()).run(context.Background(), []string{a, b}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would both be written to k.ir")
}

func TestRunReportsFailure(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.ir", kernelSrc)
	deep := writeFile(t, dir, "deep.ir", `func @deep(%d: !desc<1x1x1x1x1x16xf32>, %n: i32) {
  %c0 = constant 0 : i32
  %c1 = constant 1 : i32
  for %i = %c0 to %n step %c1 {
    %y = compute "v"(%i) : tensor<1x1x1x1x1x16xf32>
    desc_store %d[%c0, %c0, %c0, %c0, %c0, %i], %y
    yield
  }
}
`)
	var stdout bytes.Buffer
	_, err := newTestDriver(target.SM90Target(), "").run(context.Background(), []string{good, deep}, &stdout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deep.ir")
	assert.Zero(t, stdout.Len(), "nothing is printed when a file fails")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "asyncpipe.yaml", "target: sm100\noutput: build\nworkers: 4\nverbose: true\n")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Target: "sm100", Output: "build", Workers: 4, Verbose: true}, cfg)

	unknown := writeFile(t, dir, "unknown.yaml", "target: sm90\nstages: 4\n")
	_, err = loadConfig(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestResolveTarget(t *testing.T) {
	t.Setenv("ASYNCPIPE_TARGET", "")
	assert.Equal(t, "sm90", resolveTarget("", false, Config{}))
	assert.Equal(t, "sm100", resolveTarget("", false, Config{Target: "sm100"}))
	assert.Equal(t, "sm80", resolveTarget("sm80", true, Config{Target: "sm100"}))

	t.Setenv("ASYNCPIPE_TARGET", " sm100 ")
	assert.Equal(t, "sm100", resolveTarget("", false, Config{}))
	assert.Equal(t, "sm90", resolveTarget("", false, Config{Target: "sm90"}))
	assert.Equal(t, "sm80", resolveTarget("sm80", true, Config{}))
}

func TestSplitInputs(t *testing.T) {
	assert.Equal(t, []string{"a.ir", "b.ir", "c.ir"}, splitInputs(" a.ir, ,b.ir", []string{"c.ir"}))
	assert.Empty(t, splitInputs("", nil))
}
