package rspserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talismancer/vmcore-gdbstub/pkg/dumplib"
	"github.com/talismancer/vmcore-gdbstub/pkg/regview"
	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

type fakeLibrary struct {
	arch regview.Arch
	cpus []dumplib.PrStatus
}

func (f *fakeLibrary) Read(vaddr uint64, size int) ([]byte, error) {
	return nil, &dumplib.MemoryFault{Addr: vaddr, Size: size}
}
func (f *fakeLibrary) Arch() regview.Arch                         { return f.arch }
func (f *fakeLibrary) CPUCount() int                              { return len(f.cpus) }
func (f *fakeLibrary) CPUPrStatus(c int) (dumplib.PrStatus, error) { return f.cpus[c], nil }
func (f *fakeLibrary) KernelOffset() uint64                       { return 0 }
func (f *fakeLibrary) InstallUserRootPageTable(virt uint64) error { return nil }

var _ dumplib.Library = (*fakeLibrary)(nil)

// freePort picks an ephemeral port by binding and immediately releasing it.
// There's a small race until Serve rebinds it, same as any net test relying
// on port 0 without holding the listener open across the call.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func frame(payload string) []byte {
	sum := 0
	for _, b := range []byte(payload) {
		sum += int(b)
	}
	return []byte(fmt.Sprintf("$%s#%02x", payload, byte(sum)))
}

// TestServeAckDispatchAndNoAckTransition drives a full session over a real
// TCP connection: ack a well-formed packet, dispatch it, then verify the
// QStartNoAckMode reply actually suppresses further acks before the
// session-ending D packet closes the loop.
func TestServeAckDispatchAndNoAckTransition(t *testing.T) {
	lib := &fakeLibrary{
		arch: regview.X86_64,
		cpus: []dumplib.PrStatus{{Pid: 5, Regs: map[string]uint64{"rip": 0x10}}},
	}
	model, err := threadmodel.NewKernelOnly(lib)
	require.NoError(t, err)

	port := freePort(t)
	bound := make(chan struct{})
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		errCh <- Serve(ctx, "127.0.0.1", port, lib, model, func() { close(bound) })
	}()

	select {
	case <-bound:
	case <-time.After(2 * time.Second):
		t.Fatal("server never bound")
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	// "?" should be acked with '+' before the reply arrives.
	_, err = conn.Write(frame("?"))
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.True(t, n > 0)
	assert.Equal(t, byte('+'), buf[0], "well-formed packet must be acked")

	// QStartNoAckMode flips the session into no-ack mode for every packet
	// that follows it; the ack for this packet itself must still happen.
	_, err = conn.Write(frame("QStartNoAckMode"))
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.True(t, n >= 1)
	assert.Equal(t, byte('+'), buf[0])

	// Now send "D" (detach, ends the session) with no ack expected first.
	_, err = conn.Write(frame("D"))
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	reply := string(buf[:n])
	assert.NotEqual(t, byte('+'), reply[0], "no ack expected once NoAck mode is active")
	assert.Contains(t, reply, "OK")

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after session end")
	}
}
