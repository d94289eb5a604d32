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

package rsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

// FormatThreadID renders id in RSP wire form: "p<pid>.<tid>" when
// multiprocess is negotiated, otherwise bare "<tid>".
func FormatThreadID(id threadmodel.ThreadID, multiprocess bool) string {
	if multiprocess {
		return fmt.Sprintf("p%x.%x", id.PID, id.TID)
	}
	return fmt.Sprintf("%x", id.TID)
}

// ParseThreadID parses a wire-form thread-ID. A bare "<tid>" form takes
// defaultPID as its pid, matching the thread-ID wire form rule.
func ParseThreadID(s string, defaultPID uint32) (threadmodel.ThreadID, error) {
	if rest, ok := strings.CutPrefix(s, "p"); ok {
		pidHex, tidHex, ok := strings.Cut(rest, ".")
		if !ok {
			return threadmodel.ThreadID{}, fmt.Errorf("malformed multiprocess thread-id %q", s)
		}
		pid, err := strconv.ParseUint(pidHex, 16, 32)
		if err != nil {
			return threadmodel.ThreadID{}, fmt.Errorf("malformed pid in thread-id %q: %w", s, err)
		}
		tid, err := strconv.ParseUint(tidHex, 16, 32)
		if err != nil {
			return threadmodel.ThreadID{}, fmt.Errorf("malformed tid in thread-id %q: %w", s, err)
		}
		return threadmodel.ThreadID{PID: uint32(pid), TID: uint32(tid)}, nil
	}
	tid, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return threadmodel.ThreadID{}, fmt.Errorf("malformed thread-id %q: %w", s, err)
	}
	return threadmodel.ThreadID{PID: defaultPID, TID: uint32(tid)}, nil
}
