// Copyright 2018 The gVisor Authors.
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

// Package threadmodel is the thread model: it builds and owns
// the synthetic thread table, keyed by (pid, tid), from a dump's per-CPU
// prstatus records and an optional task-table sidecar.
package threadmodel

import "github.com/mohae/deepcopy"

// RegisterSnapshot is an immutable register-name-to-value mapping. Once
// constructed it cannot be mutated through this type: the backing map is
// unexported and deep-copied at construction, so a caller holding the
// source map cannot reach back in and change a value out from under a
// thread that has already been built.
type RegisterSnapshot struct {
	regs map[string]uint64
}

// NewSnapshot builds a RegisterSnapshot from src, deep-copying it first.
func NewSnapshot(src map[string]uint64) RegisterSnapshot {
	copied, _ := deepcopy.Copy(src).(map[string]uint64)
	if copied == nil {
		copied = map[string]uint64{}
	}
	return RegisterSnapshot{regs: copied}
}

// Get returns the named register's value, and whether it was present.
func (s RegisterSnapshot) Get(name string) (uint64, bool) {
	v, ok := s.regs[name]
	return v, ok
}
