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
	"strings"

	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

// EncodeRegisterBlock builds the 'g' reply for a register snapshot: the
// architecture's registers in wire order, each as little-endian hex,
// missing registers as 'x' * 2*width. The
// source's "encode big-endian then reinterpret little-endian" detour is
// skipped; this emits the value's little-endian bytes directly, which is
// what that detour always produced.
func EncodeRegisterBlock(arch regview.Arch, snap threadmodel.RegisterSnapshot) string {
	var b strings.Builder
	for _, d := range regview.Layout(arch) {
		v, ok := snap.Get(d.Name)
		if !ok {
			b.WriteString(strings.Repeat("x", 2*d.Width))
			continue
		}
		for i := 0; i < d.Width; i++ {
			writeHexByte(&b, byte(v>>(8*i)))
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

func writeHexByte(b *strings.Builder, v byte) {
	b.WriteByte(hexDigits[v>>4])
	b.WriteByte(hexDigits[v&0xf])
}
