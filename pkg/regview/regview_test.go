package regview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArch(t *testing.T) {
	for _, tc := range []struct {
		tag  string
		want Arch
	}{
		{"aarch64", AArch64},
		{"riscv64", RISCV64},
		{"x86_64", X86_64},
	} {
		got, err := ParseArch(tc.tag)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseArch("mips")
	assert.Error(t, err)
}

func TestX86_64Width(t *testing.T) {
	// 16 registers of width 8, 1 of width 4 (eflags), 5 of width 4
	// (segment registers) per the documented decomposition.
	assert.Equal(t, 16*8+4+5*4, Width(X86_64))
}

func TestRipOffset(t *testing.T) {
	layout := Layout(X86_64)
	offset := 0
	for _, d := range layout {
		if d.Name == "rip" {
			break
		}
		offset += d.Width
	}
	assert.Equal(t, 56, offset, "rip should sit at byte offset 56 (hex offset 112)")
}

func TestAArch64Width(t *testing.T) {
	// x0..x30 (31 regs), sp, pc (8 bytes each), cpsr (4 bytes).
	assert.Equal(t, 33*8+4, Width(AArch64))
}

func TestRiscv64Width(t *testing.T) {
	// 32 GPRs plus pc, 8 bytes each.
	assert.Equal(t, 33*8, Width(RISCV64))
}

func TestFixupAArch64(t *testing.T) {
	out := Fixup(AArch64, map[string]uint64{"lr": 0x1234, "pstate": 0x60000000})
	assert.Equal(t, uint64(0x1234), out["x30"])
	assert.Equal(t, uint64(0x60000000), out["cpsr"])
}

func TestFixupRiscv64(t *testing.T) {
	out := Fixup(RISCV64, map[string]uint64{"s0": 0xdead})
	assert.Equal(t, uint64(0), out["zero"])
	assert.Equal(t, uint64(0xdead), out["fp"])
}

func TestFixupX86_64(t *testing.T) {
	out := Fixup(X86_64, map[string]uint64{"rflags": 0x202})
	assert.Equal(t, uint64(0x202), out["eflags"])
}

func TestFixupDoesNotMutateInput(t *testing.T) {
	in := map[string]uint64{"lr": 1}
	_ = Fixup(AArch64, in)
	_, ok := in["x30"]
	assert.False(t, ok)
}
