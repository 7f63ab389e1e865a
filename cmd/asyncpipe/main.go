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

// Command asyncpipe rewrites the descriptor stores of loop bodies into
// pipelined async copies.
//
// Usage:
//
//	asyncpipe -input kernel.ir -target sm90
//	asyncpipe -input a.ir,b.ir -output out/ -target sm100 -v
//	asyncpipe -config asyncpipe.yaml c.ir d.ir
//
// Inputs are IR text files, one or more functions each. Rewritten files are
// written to the -output directory under their base names, or to stdout.
// The default target comes from ASYNCPIPE_TARGET, then sm90.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ajroetker/asyncpipe/target"
	"github.com/pkg/errors"
)

var (
	inputFiles = flag.String("input", "", "Comma-separated input IR files (may also be given as arguments)")
	outputDir  = flag.String("output", "", "Output directory (default: stdout)")
	targetName = flag.String("target", "", "Target GPU: "+strings.Join(target.Names(), ", ")+" (default: $ASYNCPIPE_TARGET or "+defaultTarget+")")
	configFile = flag.String("config", "", "YAML config file; flags override its values")
	workers    = flag.Int("workers", 0, "Files and functions processed in parallel (default: GOMAXPROCS)")
	verbose    = flag.Bool("v", false, "Log progress to stderr")
)

func main() {
	flag.Parse()

	opts, err := buildOptions(setFlags(), flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	stats, err := opts.driver.run(context.Background(), opts.inputs, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts.driver.logger.Info("done",
		"files", len(opts.inputs),
		"loops", stats.Loops,
		"pipelined", stats.Pipelined,
		"stores", stats.Stores)
}

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

type options struct {
	inputs []string
	driver *driver
}

// buildOptions merges the config file, the flags and the positional
// arguments into a driver.
func buildOptions(set map[string]bool, args []string) (*options, error) {
	var cfg Config
	if *configFile != "" {
		var err error
		cfg, err = loadConfig(*configFile)
		if err != nil {
			return nil, err
		}
	}
	if set["output"] {
		cfg.Output = *outputDir
	}
	if set["workers"] {
		cfg.Workers = *workers
	}
	if set["v"] {
		cfg.Verbose = *verbose
	}

	inputs := splitInputs(*inputFiles, args)
	if len(inputs) == 0 {
		return nil, errors.New("no input files")
	}

	tgt, err := target.GetTarget(resolveTarget(*targetName, set["target"], cfg))
	if err != nil {
		return nil, err
	}

	return &options{
		inputs: inputs,
		driver: &driver{
			target:  tgt,
			outDir:  cfg.Output,
			workers: cfg.Workers,
			logger:  newLogger(cfg.Verbose),
		},
	}, nil
}

// splitInputs combines the comma-separated -input list with the positional
// arguments, dropping empty entries.
func splitInputs(list string, args []string) []string {
	var inputs []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			inputs = append(inputs, s)
		}
	}
	return append(inputs, args...)
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
