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
	"fmt"

	"github.com/talismancer/vmcore-gdbstub/pkg/dumplib"
	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
)

// ThreadID identifies a synthetic thread by its (pid, tid) pair.
type ThreadID struct {
	PID uint32
	TID uint32
}

// thread is one entry of the table: a register snapshot plus a
// human-readable label, keyed externally by ThreadID.
type thread struct {
	regs  RegisterSnapshot
	extra string
}

// Model is the built, read-only thread table for one server lifetime. No
// operation constructs or removes threads after the constructor returns.
type Model struct {
	order      []ThreadID
	byID       map[ThreadID]thread
	current    ThreadID
	defaultPID uint32
}

// Threads returns every thread's ID, in construction order.
func (m *Model) Threads() []ThreadID {
	out := make([]ThreadID, len(m.order))
	copy(out, m.order)
	return out
}

// SetCurrent sets the current thread. A reference to an unknown thread is
// silently ignored — GDB tolerates this.
func (m *Model) SetCurrent(id ThreadID) {
	if _, ok := m.byID[id]; ok {
		m.current = id
	}
}

// IsAlive reports whether id names a thread in the table.
func (m *Model) IsAlive(id ThreadID) bool {
	_, ok := m.byID[id]
	return ok
}

// Current returns the current thread's ID.
func (m *Model) Current() ThreadID { return m.current }

// Regs returns id's register snapshot.
func (m *Model) Regs(id ThreadID) (RegisterSnapshot, bool) {
	t, ok := m.byID[id]
	return t.regs, ok
}

// Extra returns id's human-readable label.
func (m *Model) Extra(id ThreadID) (string, bool) {
	t, ok := m.byID[id]
	return t.extra, ok
}

// DefaultPID returns the pid a bare (non-multiprocess) thread-ID implies.
func (m *Model) DefaultPID() uint32 { return m.defaultPID }

func (m *Model) add(id ThreadID, regs map[string]uint64, extra string) {
	m.order = append(m.order, id)
	m.byID[id] = thread{regs: NewSnapshot(regs), extra: extra}
}

// NewKernelOnly builds the thread table for kernel-only mode: one thread
// per CPU, no sidecar.
func NewKernelOnly(lib dumplib.Library) (*Model, error) {
	m := &Model{byID: map[ThreadID]thread{}, defaultPID: 1}
	arch := lib.Arch()

	haveCurrent := false
	for c := 0; c < lib.CPUCount(); c++ {
		ps, err := lib.CPUPrStatus(c)
		if err != nil {
			return nil, fmt.Errorf("reading prstatus for cpu %d: %w", c, err)
		}
		id := ThreadID{PID: 1, TID: uint32(c + 1)}
		regs := regview.Fixup(arch, ps.Regs)

		// The "pid" label is built only for a CPU with a nonzero prstatus
		// pid; an idle CPU is labelled "idle" instead.
		var extra string
		if ps.Pid != 0 {
			extra = fmt.Sprintf("CPU #%x pid %d", c, ps.Pid)
		} else {
			extra = fmt.Sprintf("CPU #%x idle", c)
		}
		m.add(id, regs, extra)

		if !haveCurrent && ps.Pid != 0 {
			m.current = id
			haveCurrent = true
		}
	}
	if !haveCurrent {
		m.current = ThreadID{PID: 1, TID: 1}
	}
	return m, nil
}

// NewKernelWithTasks builds the thread table for kernel-with-tasks mode:
// the same CPU-indexed threads as kernel-only, enriched with sidecar task
// names, plus one synthetic thread per sidecar task not already running
// on a CPU.
func NewKernelWithTasks(lib dumplib.Library, sc *Sidecar) (*Model, error) {
	m := &Model{byID: map[ThreadID]thread{}, defaultPID: 1}
	arch := lib.Arch()

	// taskByTid indexes sidecar tasks by the tid field, which is where the
	// sidecar encodes a task's pid in kernel-with-tasks mode.
	taskByTid := map[uint64]SidecarTask{}
	for _, t := range sc.Threads {
		taskByTid[t.Tid] = t
	}
	matched := map[uint64]bool{}

	haveCurrent := false
	for c := 0; c < lib.CPUCount(); c++ {
		ps, err := lib.CPUPrStatus(c)
		if err != nil {
			return nil, fmt.Errorf("reading prstatus for cpu %d: %w", c, err)
		}
		id := ThreadID{PID: 1, TID: uint32(c + 1)}
		regs := regview.Fixup(arch, ps.Regs)

		var extra string
		if task, ok := taskByTid[ps.Pid]; ok && ps.Pid != 0 {
			matched[task.Tid] = true
			extra = fmt.Sprintf("pid %d LWP %d %q", task.Tid, task.Tid, task.Comm)
		} else if ps.Pid != 0 {
			extra = fmt.Sprintf("CPU #%x pid %d", c, ps.Pid)
		} else {
			extra = fmt.Sprintf("CPU #%x idle", c)
		}
		m.add(id, regs, extra)

		if !haveCurrent && ps.Pid != 0 {
			m.current = id
			haveCurrent = true
		}
	}
	if !haveCurrent {
		m.current = ThreadID{PID: 1, TID: 1}
	}

	k := uint32(1)
	for _, t := range sc.Threads {
		if matched[t.Tid] {
			continue
		}
		id := ThreadID{PID: 1, TID: uint32(lib.CPUCount()) + k}
		k++
		extra := fmt.Sprintf("pid %d LWP %d %q", t.Pid, t.Tid, t.Comm)
		m.add(id, t.Registers, extra)
	}
	return m, nil
}

// NewProcess builds the thread table for process mode: no CPU-indexed
// threads, one thread per sidecar task, and reconfigures lib's
// translation context onto the process's root page table first.
func NewProcess(lib dumplib.Library, sc *Sidecar) (*Model, error) {
	if err := lib.InstallUserRootPageTable(sc.RootPgt); err != nil {
		return nil, fmt.Errorf("installing process root page table: %w", err)
	}

	// The "current thread" rule compares candidate tids against each CPU's
	// prstatus pid even though no CPU-indexed threads are created in this
	// mode.
	cpuPids := map[uint64]bool{}
	for c := 0; c < lib.CPUCount(); c++ {
		ps, err := lib.CPUPrStatus(c)
		if err != nil {
			return nil, fmt.Errorf("reading prstatus for cpu %d: %w", c, err)
		}
		if ps.Pid != 0 {
			cpuPids[ps.Pid] = true
		}
	}

	m := &Model{byID: map[ThreadID]thread{}}
	if len(sc.Threads) > 0 {
		m.defaultPID = uint32(sc.Threads[0].Pid)
	}

	haveCurrent := false
	for _, t := range sc.Threads {
		id := ThreadID{PID: uint32(t.Pid), TID: uint32(t.Tid)}
		extra := fmt.Sprintf("pid %d LWP %d %q", t.Pid, t.Tid, t.Comm)
		m.add(id, t.Registers, extra)

		// No break on match: preserved quirk — if no CPU pid
		// matches any task, the fallback is "the last constructed thread",
		// so this loop always lets a later non-matching id overwrite
		// current unless haveCurrent locks it in below.
		if !haveCurrent && cpuPids[t.Tid] {
			m.current = id
			haveCurrent = true
		}
		if !haveCurrent {
			m.current = id
		}
	}
	return m, nil
}
