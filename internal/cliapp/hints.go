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

package cliapp

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Mode names the thread-model construction mode, used to pick which
// startup hint lines get printed.
type Mode int

const (
	// ModeKernelOnly serves from CPU prstatus registers only, no tasks.
	ModeKernelOnly Mode = iota
	// ModeKernelWithTasks augments CPU threads with sidecar task info.
	ModeKernelWithTasks
	// ModeProcess serves a single user-space process via its sidecar tasks.
	ModeProcess
)

// hintBold highlights the copy-pasteable GDB commands in a startup hint,
// the way lazydocker uses fatih/color to emphasize terminal output.
var hintBold = color.New(color.Bold)

// PrintStartupHints writes the "Waiting for incoming connection" line and
// the mode-appropriate GDB setup hints to w. binaryPath is
// the -v value (vmlinux in kernel modes, the process executable in
// process mode); it may be empty. kernelOffset is 0 if vmcoreinfo carried
// no KERNELOFFSET. loadAddr is the process's load address in process
// mode (ignored otherwise).
func PrintStartupHints(w io.Writer, mode Mode, hostname string, port int, binaryPath string, kernelOffset, loadAddr uint64) {
	fmt.Fprintln(w, "Waiting for incoming connection")

	switch mode {
	case ModeKernelOnly, ModeKernelWithTasks:
		switch {
		case kernelOffset != 0:
			hintBold.Fprintf(w, "file %s -o 0x%x\n", binaryPath, kernelOffset)
		case binaryPath != "":
			hintBold.Fprintf(w, "file %s\n", binaryPath)
		}
	case ModeProcess:
		fmt.Fprintln(w, "# the target is a position-independent executable")
		fmt.Fprintln(w, "# the offset below is this dump's load bias, not a link-time address")
		hintBold.Fprintf(w, "file %s -o 0x%x\n", binaryPath, loadAddr)
	}

	hintBold.Fprintf(w, "target remote %s:%d\n", hostname, port)
}
