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

package threadmodel

import (
	"encoding/json"
	"fmt"
	"os"
)

// SidecarTask is one entry of a sidecar's "threads" array.
type SidecarTask struct {
	Pid       uint64            `json:"pid"`
	Tid       uint64            `json:"tid"`
	Comm      string            `json:"comm"`
	Registers map[string]uint64 `json:"registers"`
}

// Sidecar is the task-table JSON document loaded for kernel-with-tasks and
// process modes.
type Sidecar struct {
	RootPgt  uint64        `json:"rootpgt"`
	LoadAddr uint64        `json:"loadaddr"`
	Threads  []SidecarTask `json:"threads"`
}

// LoadSidecar reads and parses the sidecar JSON at path. Malformed JSON is
// a fatal startup error.
func LoadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sidecar %q: %w", path, err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing sidecar %q: %w", path, err)
	}
	return &sc, nil
}
