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

// Package regview provides the register-view model: per-architecture
// ordered register descriptors and the fixups that derive aliased register
// names from a dump's raw prstatus fields.
//
// gVisor's pkg/sentry/arch picks one architecture per build via //go:build
// tags, because a sentry binary only ever runs on one host architecture. A
// vmcore inspector has the opposite requirement: a single binary must
// support any of the three registered architectures, chosen at runtime from
// the dump's own metadata. This package therefore replaces build-tag
// dispatch with a runtime registry indexed by Arch, while keeping the
// teacher's descriptor-table style (name, width, ordered slice).
package regview

import "fmt"

// Arch identifies one of the three supported target architectures.
type Arch int

const (
	// AArch64 is the ARM 64-bit architecture.
	AArch64 Arch = iota
	// RISCV64 is the RISC-V 64-bit architecture.
	RISCV64
	// X86_64 is the Intel/AMD 64-bit architecture.
	X86_64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case AArch64:
		return "aarch64"
	case RISCV64:
		return "riscv64"
	case X86_64:
		return "x86_64"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// ParseArch maps a vmcoreinfo/sidecar architecture tag to an Arch.
func ParseArch(tag string) (Arch, error) {
	switch tag {
	case "aarch64":
		return AArch64, nil
	case "riscv64":
		return RISCV64, nil
	case "x86_64":
		return X86_64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture %q", tag)
	}
}

// RegDescriptor names one slot of the ordered wire layout for a 'g' reply.
// Order within a Registry entry IS the wire order: no field may be
// reordered independently of the GDB target description it corresponds to.
type RegDescriptor struct {
	// Name is the lowercase short register name (e.g. "rip", "pc", "x30").
	Name string
	// Width is the slot width in bytes.
	Width int
}

// layouts holds the declaration-order register list for each architecture.
//
// The x86_64 layout reproduces the register count given by the documented
// testable-property formula (16 registers of width 8, 1 of width 4, 5 of
// width 4 — see DESIGN.md for the reconciliation of that formula against
// the prose's final hex-character count). Consistent with that formula,
// r15 and gs are not part of the wire layout.
var layouts = map[Arch][]RegDescriptor{
	X86_64: {
		{"rax", 8}, {"rbx", 8}, {"rcx", 8}, {"rdx", 8},
		{"rsi", 8}, {"rdi", 8}, {"rsp", 8}, {"rip", 8},
		{"rbp", 8}, {"r8", 8}, {"r9", 8}, {"r10", 8},
		{"r11", 8}, {"r12", 8}, {"r13", 8}, {"r14", 8},
		{"eflags", 4}, {"cs", 4}, {"ss", 4}, {"ds", 4},
		{"es", 4}, {"fs", 4},
	},
	AArch64: aarch64Layout(),
	RISCV64: riscv64Layout(),
}

func aarch64Layout() []RegDescriptor {
	regs := make([]RegDescriptor, 0, 33)
	for i := 0; i <= 30; i++ {
		regs = append(regs, RegDescriptor{fmt.Sprintf("x%d", i), 8})
	}
	regs = append(regs, RegDescriptor{"sp", 8}, RegDescriptor{"pc", 8}, RegDescriptor{"cpsr", 4})
	return regs
}

func riscv64Layout() []RegDescriptor {
	names := []string{
		"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
		"fp", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
		"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
		"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
	}
	regs := make([]RegDescriptor, 0, len(names)+1)
	for _, n := range names {
		regs = append(regs, RegDescriptor{n, 8})
	}
	regs = append(regs, RegDescriptor{"pc", 8})
	return regs
}

// Layout returns the ordered register descriptors for arch, in wire order.
func Layout(arch Arch) []RegDescriptor {
	return layouts[arch]
}

// Width returns the total byte width of a 'g' reply for arch.
func Width(arch Arch) int {
	total := 0
	for _, d := range Layout(arch) {
		total += d.Width
	}
	return total
}

// Fixup derives the aliased register names this module defines from a raw
// prstatus register map, returning a new map with the aliases added. regs is
// not mutated.
func Fixup(arch Arch, regs map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(regs)+2)
	for k, v := range regs {
		out[k] = v
	}
	switch arch {
	case AArch64:
		if v, ok := out["lr"]; ok {
			out["x30"] = v
		}
		if v, ok := out["pstate"]; ok {
			out["cpsr"] = v
		}
	case RISCV64:
		out["zero"] = 0
		if v, ok := out["s0"]; ok {
			out["fp"] = v
		}
	case X86_64:
		if v, ok := out["rflags"]; ok {
			out["eflags"] = v
		}
	}
	return out
}
