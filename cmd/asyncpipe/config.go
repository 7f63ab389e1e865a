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
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// defaultTarget is used when neither the flags, the config file nor the
// environment name one.
const defaultTarget = "sm90"

// Config holds the settings that can come from a YAML file. Flags given on
// the command line override them.
type Config struct {
	// Target is the GPU generation to lower for (sm80, sm90, sm100).
	Target string `yaml:"target"`

	// Output is the directory receiving rewritten files; empty means stdout.
	Output string `yaml:"output"`

	// Workers bounds the number of files and functions processed at once.
	Workers int `yaml:"workers"`

	// Verbose enables progress logging.
	Verbose bool `yaml:"verbose"`
}

// loadConfig reads a YAML config file. Unknown keys are rejected.
func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// envTarget returns the target named by ASYNCPIPE_TARGET, if any.
func envTarget() string {
	return strings.TrimSpace(os.Getenv("ASYNCPIPE_TARGET"))
}

// resolveTarget picks the target name: an explicit flag, then the config
// file, then the environment, then the default.
func resolveTarget(flagValue string, flagSet bool, cfg Config) string {
	switch {
	case flagSet && flagValue != "":
		return flagValue
	case cfg.Target != "":
		return cfg.Target
	case envTarget() != "":
		return envTarget()
	default:
		return defaultTarget
	}
}
