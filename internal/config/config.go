// Copyright 2020 The gVisor Authors.
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

// Package config loads optional per-host defaults for vmcore-gdbstub from a
// TOML file, the way runsc/config loads OCI-runtime defaults. Flags passed
// on the command line always take precedence over a loaded file; a config
// file exists only to avoid retyping the same -a/-p/-d on every invocation.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// File is the on-disk schema for -c/--config.
type File struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	Verbose  bool   `toml:"verbose"`
}

// Load parses path as a TOML File. A path that cannot be read or parsed is
// an error; callers decide whether -c was actually given and call Load only
// then.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return &f, nil
}

// ApplyDefaults copies any non-zero fields of f into the flag values that
// the user did not explicitly set on the command line, as reported by
// hostnameSet, portSet and verboseSet.
func ApplyDefaults(f *File, hostname *string, port *int, verbose *bool, hostnameSet, portSet, verboseSet bool) {
	if f == nil {
		return
	}
	if !hostnameSet && f.Hostname != "" {
		*hostname = f.Hostname
	}
	if !portSet && f.Port != 0 {
		*port = f.Port
	}
	if !verboseSet && f.Verbose {
		*verbose = f.Verbose
	}
}
