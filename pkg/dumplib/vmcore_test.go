package dumplib

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
)

// buildNote appends one ELF note (namesz/descsz/type/name/desc, each
// section padded to a 4-byte boundary) to buf.
func buildNote(buf *bytes.Buffer, name string, typ uint32, desc []byte) {
	nameBytes := append([]byte(name), 0)
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(nameBytes)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(desc)))
	binary.LittleEndian.PutUint32(hdr[8:12], typ)
	buf.Write(hdr[:])
	buf.Write(nameBytes)
	buf.Write(make([]byte, align4(len(nameBytes))-len(nameBytes)))
	buf.Write(desc)
	buf.Write(make([]byte, align4(len(desc))-len(desc)))
}

// buildX86PrStatusDesc returns an NT_PRSTATUS descriptor for x86_64 with
// pr_pid and rip set to known values, everything else zero.
func buildX86PrStatusDesc(pid uint32, rip uint64) []byte {
	names := rawRegisterOrder(regview.X86_64)
	desc := make([]byte, elfPrStatusHeaderSize+len(names)*8)
	binary.LittleEndian.PutUint32(desc[prPidOffset:prPidOffset+4], pid)
	for i, n := range names {
		if n == "rip" {
			binary.LittleEndian.PutUint64(desc[elfPrStatusHeaderSize+i*8:elfPrStatusHeaderSize+i*8+8], rip)
		}
	}
	return desc
}

// testLoad is one PT_LOAD segment to bake into a synthetic vmcore.
type testLoad struct {
	vaddr uint64
	data  []byte
}

// writeTestVMCore writes a minimal well-formed ELF64 core file containing
// one NT_PRSTATUS note, one VMCOREINFO note, and one PT_LOAD segment
// covering loadVaddr..loadVaddr+len(loadData), returning its path.
func writeTestVMCore(t *testing.T, loadVaddr uint64, loadData []byte) string {
	t.Helper()
	return writeTestVMCoreMulti(t, []testLoad{{vaddr: loadVaddr, data: loadData}})
}

// writeTestVMCoreMulti is writeTestVMCore generalized to an arbitrary
// number of (possibly non-contiguous) PT_LOAD segments, for exercising
// the mapping lookup across more than one candidate segment.
func writeTestVMCoreMulti(t *testing.T, loads []testLoad) string {
	t.Helper()

	var notes bytes.Buffer
	buildNote(&notes, "CORE", noteTypePRStatus, buildX86PrStatusDesc(7, 0x0123456789abcdef))
	buildNote(&notes, "VMCOREINFO", 0, []byte("KERNELOFFSET=0x2000\n"))

	const ehdrSize = 64
	const phdrSize = 56
	phnum := 1 + len(loads)
	dataStart := int64(ehdrSize + phnum*phdrSize)
	noteOff := dataStart

	var buf bytes.Buffer

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1, 0})
	buf.Write(make([]byte, 8))
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(4)                // e_type = ET_CORE
	write16(62)               // e_machine = EM_X86_64
	write32(1)                // e_version
	write64(0)                // e_entry
	write64(uint64(ehdrSize)) // e_phoff
	write64(0)                // e_shoff
	write32(0)                // e_flags
	write16(ehdrSize)         // e_ehsize
	write16(phdrSize)         // e_phentsize
	write16(uint16(phnum))    // e_phnum
	write16(0)                // e_shentsize
	write16(0)                // e_shnum
	write16(0)                // e_shstrndx

	require.Equal(t, ehdrSize, buf.Len())

	// PT_NOTE
	write32(4) // PT_NOTE
	write32(0) // p_flags
	write64(uint64(noteOff))
	write64(0)
	write64(0)
	write64(uint64(notes.Len()))
	write64(uint64(notes.Len()))
	write64(4)

	loadOff := noteOff + int64(notes.Len())
	offsets := make([]int64, len(loads))
	for i, l := range loads {
		offsets[i] = loadOff
		write32(1) // PT_LOAD
		write32(5) // p_flags R+X
		write64(uint64(loadOff))
		write64(l.vaddr)
		write64(l.vaddr)
		write64(uint64(len(l.data)))
		write64(uint64(len(l.data)))
		write64(0x1000)
		loadOff += int64(len(l.data))
	}

	require.Equal(t, int(dataStart), buf.Len())
	buf.Write(notes.Bytes())
	for _, l := range loads {
		buf.Write(l.data)
	}

	path := filepath.Join(t.TempDir(), "vmcore")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpenParsesPrStatusAndVMCOREINFO(t *testing.T) {
	path := writeTestVMCore(t, 0x1000, bytes.Repeat([]byte{0xAB}, 0x100))

	vc, err := Open(path)
	require.NoError(t, err)
	defer vc.Close()

	assert.Equal(t, 1, vc.CPUCount())
	assert.Equal(t, uint64(0x2000), vc.KernelOffset())

	ps, err := vc.CPUPrStatus(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ps.Pid)
	assert.Equal(t, uint64(0x0123456789abcdef), ps.Regs["rip"])
}

func TestReadMappedRange(t *testing.T) {
	data := bytes.Repeat([]byte{0xCD}, 0x100)
	path := writeTestVMCore(t, 0x1000, data)

	vc, err := Open(path)
	require.NoError(t, err)
	defer vc.Close()

	got, err := vc.Read(0x1000, 16)
	require.NoError(t, err)
	assert.Equal(t, data[:16], got)

	_, err = vc.Read(0x9999, 8)
	assert.Error(t, err)
}

func TestReadMappedRangeAcrossMultipleSegments(t *testing.T) {
	low := bytes.Repeat([]byte{0x11}, 0x100)
	high := bytes.Repeat([]byte{0x22}, 0x100)
	path := writeTestVMCoreMulti(t, []testLoad{
		{vaddr: 0x1000, data: low},
		{vaddr: 0x50000, data: high},
	})

	vc, err := Open(path)
	require.NoError(t, err)
	defer vc.Close()

	got, err := vc.Read(0x50008, 16)
	require.NoError(t, err, "the btree-backed lookup must find the second, non-adjacent PT_LOAD segment")
	assert.Equal(t, high[8:24], got)

	got, err = vc.Read(0x1008, 16)
	require.NoError(t, err)
	assert.Equal(t, low[8:24], got)

	_, err = vc.Read(0x30000, 8)
	assert.Error(t, err, "address between the two segments must not resolve to either")
}

func TestLockRefusesSecondOpen(t *testing.T) {
	path := writeTestVMCore(t, 0x1000, bytes.Repeat([]byte{0}, 0x100))

	vc, err := Open(path)
	require.NoError(t, err)
	defer vc.Close()

	_, err = Open(path)
	assert.Error(t, err, "a second Open of the same vmcore should fail while the first holds its lock")
}
