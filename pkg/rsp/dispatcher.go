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
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/talismancer/vmcore-gdbstub/pkg/dumplib"
	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

// Session holds the mutable per-connection protocol flags.
// All but Running flip at most once in a normal session.
type Session struct {
	NoAckMode    bool
	Multiprocess bool
	BigPackets   bool
	Running      bool
}

type regexHandler struct {
	pattern *regexp.Regexp
	handle  func(d *Dispatcher, groups []string) string
}

// regexTable is tried in this order for every packet that doesn't match
// the literal table exactly; most-frequent-first.
var regexTable = []regexHandler{
	{regexp.MustCompile(`^m([0-9a-f]+),([0-9a-f]+)$`), (*Dispatcher).handleMemRead},
	{regexp.MustCompile(`^H[a-z](p?[0-9a-f.]+)$`), (*Dispatcher).handleSetCurrentThread},
	{regexp.MustCompile(`^T(p?[0-9a-f.]+)$`), (*Dispatcher).handleThreadAlive},
	{regexp.MustCompile(`^qSupported:(.+)$`), (*Dispatcher).handleQSupported},
	{regexp.MustCompile(`^qThreadExtraInfo,(p?[0-9a-f.]+)$`), (*Dispatcher).handleThreadExtraInfo},
	{regexp.MustCompile(`^D;[0-9a-f]+$`), (*Dispatcher).handleDetachWithPid},
	{regexp.MustCompile(`^vKill;(p?[0-9a-f.]+)$`), (*Dispatcher).handleKillWithPid},
	{regexp.MustCompile(`^qAttached:(.+)$`), (*Dispatcher).handleQAttached},
}

// Dispatcher is the command dispatcher: it maps a decoded
// packet payload to a handler and produces reply bytes. No handler ever
// returns an error; every fault is mapped to an RSP error reply inline
// no exception escapes the dispatcher.
type Dispatcher struct {
	Lib     dumplib.Library
	Model   *threadmodel.Model
	Arch    regview.Arch
	Session Session

	threadIterIDs []threadmodel.ThreadID
	threadIterPos int
}

// New builds a Dispatcher over an already-constructed dump adapter and
// thread model, with Running latched true.
func New(lib dumplib.Library, model *threadmodel.Model) *Dispatcher {
	return &Dispatcher{
		Lib:     lib,
		Model:   model,
		Arch:    lib.Arch(),
		Session: Session{Running: true},
	}
}

// Dispatch consults the literal table, then the regex table in order,
// and returns the reply payload. Unknown packets get an empty reply.
func (d *Dispatcher) Dispatch(payload []byte) []byte {
	s := string(payload)

	if reply, ok := d.literal(s); ok {
		return []byte(reply)
	}
	for _, h := range regexTable {
		if m := h.pattern.FindStringSubmatch(s); m != nil {
			return []byte(h.handle(d, m[1:]))
		}
	}
	return nil
}

func (d *Dispatcher) literal(s string) (string, bool) {
	switch s {
	case "g":
		return d.handleReadRegisters(), true
	case "qfThreadInfo":
		return d.handleQfThreadInfo(), true
	case "qsThreadInfo":
		return d.handleQsThreadInfo(), true
	case "QStartNoAckMode":
		d.Session.NoAckMode = true
		return "OK", true
	case "vMustReplyEmpty":
		return "", true
	case "Hc-1":
		return "OK", true
	case "?":
		return "T05thread:" + FormatThreadID(d.Model.Current(), d.Session.Multiprocess) + ";", true
	case "D":
		d.Session.Running = false
		return "OK", true
	case "k":
		d.Session.Running = false
		return "", true
	}
	return "", false
}

func (d *Dispatcher) handleReadRegisters() string {
	snap, ok := d.Model.Regs(d.Model.Current())
	if !ok {
		return ""
	}
	return EncodeRegisterBlock(d.Arch, snap)
}

func (d *Dispatcher) handleQfThreadInfo() string {
	ids := d.Model.Threads()
	d.threadIterIDs = ids

	if d.Session.BigPackets {
		d.threadIterPos = len(ids)
		formatted := make([]string, len(ids))
		for i, id := range ids {
			formatted[i] = FormatThreadID(id, d.Session.Multiprocess)
		}
		return "m" + strings.Join(formatted, ",")
	}

	d.threadIterPos = 1
	if len(ids) == 0 {
		return "l"
	}
	return "m" + FormatThreadID(ids[0], d.Session.Multiprocess)
}

func (d *Dispatcher) handleQsThreadInfo() string {
	if d.Session.BigPackets && d.threadIterPos >= len(d.threadIterIDs) {
		return "l"
	}
	if d.threadIterPos < len(d.threadIterIDs) {
		id := d.threadIterIDs[d.threadIterPos]
		d.threadIterPos++
		return "m" + FormatThreadID(id, d.Session.Multiprocess)
	}
	return "l"
}

func (d *Dispatcher) handleMemRead(groups []string) string {
	addr, err1 := strconv.ParseUint(groups[0], 16, 64)
	size, err2 := strconv.ParseUint(groups[1], 16, 64)
	if err1 != nil || err2 != nil {
		return "E14"
	}
	data, err := d.Lib.Read(addr, int(size))
	if err != nil {
		return "E14"
	}
	return hex.EncodeToString(data)
}

func (d *Dispatcher) handleSetCurrentThread(groups []string) string {
	id, err := ParseThreadID(groups[0], d.Model.DefaultPID())
	if err == nil {
		d.Model.SetCurrent(id)
	}
	return "OK"
}

func (d *Dispatcher) handleThreadAlive(groups []string) string {
	id, err := ParseThreadID(groups[0], d.Model.DefaultPID())
	if err != nil || !d.Model.IsAlive(id) {
		return "E03"
	}
	return "OK"
}

func (d *Dispatcher) handleQSupported(groups []string) string {
	for _, feature := range strings.Split(groups[0], ";") {
		if feature == "multiprocess+" {
			d.Session.Multiprocess = true
		}
	}
	d.Session.BigPackets = true
	return "multiprocess+;QStartNoAckMode+"
}

func (d *Dispatcher) handleThreadExtraInfo(groups []string) string {
	id, err := ParseThreadID(groups[0], d.Model.DefaultPID())
	if err != nil {
		return ""
	}
	extra, ok := d.Model.Extra(id)
	if !ok {
		return ""
	}
	return hex.EncodeToString([]byte(extra))
}

func (d *Dispatcher) handleDetachWithPid(groups []string) string {
	d.Session.Running = false
	return "OK"
}

func (d *Dispatcher) handleKillWithPid(groups []string) string {
	d.Session.Running = false
	return ""
}

func (d *Dispatcher) handleQAttached(groups []string) string {
	return "1"
}
