// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.
//
// Adapted for vmcore-gdbstub: original core-dump reading logic comes from
// golang.org/x/debug/core (an ELF core-file reader); this package narrows
// that library's surface down to the six operations the rest of this
// module is allowed to depend on, and adds the kdump-specific pieces
// (VMCOREINFO, per-CPU PRSTATUS, kernel/user page-table switching)
// golang.org/x/debug/core has no notion of, since it was built for
// userspace core files rather than whole-kernel crash dumps.

// Package dumplib is the dump adapter: it is the only package
// in this module that knows about ELF vmcore layout, page tables, or
// vmcoreinfo notes. Every other package sees memory as a flat address
// space and threads as opaque prstatus records.
package dumplib

import (
	"errors"
	"fmt"

	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
)

// MemoryFault is returned by Library.Read when the requested range cannot
// be translated or is not present in the dump.
type MemoryFault struct {
	Addr uint64
	Size int
	Err  error
}

func (f *MemoryFault) Error() string {
	return fmt.Sprintf("memory fault reading %d bytes at %#x: %v", f.Size, f.Addr, f.Err)
}

func (f *MemoryFault) Unwrap() error { return f.Err }

// ErrNoSuchNote is the error value for an absent vmcoreinfo key. No function
// in this package returns it: KernelOffset reports an absent KERNELOFFSET
// as 0.
var ErrNoSuchNote = errors.New("vmcoreinfo: no such key")

// PrStatus is a single CPU's register snapshot as recorded in the dump's
// NT_PRSTATUS note, before any architecture fixup is applied.
type PrStatus struct {
	// Regs maps raw prstatus field names (e.g. "lr", "pstate", "rflags")
	// to their captured values.
	Regs map[string]uint64
	// Pid is the pr_pid field: nonzero if a task was running on this CPU
	// when the dump was taken.
	Pid uint64
}

// Library is the narrow contract required of the underlying
// dump-file library. ELF/kdump parsing, page-table walking and symbol
// handling behind this interface are explicitly out of scope for the rest
// of the module; callers only ever see these six operations.
type Library interface {
	// Read reads size bytes at the given kernel-virtual (or, after
	// InstallUserRootPageTable, process-virtual) address.
	Read(vaddr uint64, size int) ([]byte, error)

	// Arch returns the dump's target architecture.
	Arch() regview.Arch

	// CPUCount returns the number of CPUs recorded in the dump.
	CPUCount() int

	// CPUPrStatus returns CPU c's prstatus record, for c in [0, CPUCount()).
	CPUPrStatus(c int) (PrStatus, error)

	// KernelOffset returns the vmcoreinfo KERNELOFFSET value, or 0 if the
	// dump carries no such note.
	KernelOffset() uint64

	// InstallUserRootPageTable switches the translator used by Read to
	// resolve addresses against a user process's address space: virt (a
	// kernel-virtual address holding the process's root page table) is
	// translated to a physical address, and the translator is
	// reinitialized to walk that root instead of the kernel's.
	InstallUserRootPageTable(virt uint64) error
}
