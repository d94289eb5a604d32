package rsp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback is a bytes.Buffer-backed io.ReadWriter used to feed bytes into
// a Codec and capture what it writes back.
type loopback struct {
	in  *bytes.Reader
	out *bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func newLoopback(in string) *loopback {
	return &loopback{in: bytes.NewReader([]byte(in)), out: &bytes.Buffer{}}
}

func TestReceiveValidChecksumAcks(t *testing.T) {
	lb := newLoopback("$g#67")
	c := NewCodec(lb)

	payload, outcome, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "g", string(payload))
	assert.Equal(t, "+", lb.out.String())
}

func TestReceiveBadChecksumNacks(t *testing.T) {
	lb := newLoopback("$g#00")
	c := NewCodec(lb)

	payload, outcome, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, OutcomeChecksumMismatch, outcome)
	assert.Nil(t, payload)
	assert.Equal(t, "-", lb.out.String())
}

func TestReceiveNoAckModeSkipsAckAndMismatchPath(t *testing.T) {
	lb := newLoopback("$g#00")
	c := NewCodec(lb)
	c.SetNoAckMode(true)

	payload, outcome, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "g", string(payload))
	assert.Empty(t, lb.out.String(), "no ack byte should be written in NoAck mode")
}

func TestReceiveConnectionLost(t *testing.T) {
	lb := newLoopback("$g")
	c := NewCodec(lb)

	_, outcome, err := c.Receive()
	assert.Error(t, err)
	assert.Equal(t, OutcomeConnectionLost, outcome)
}

func TestSendFramesAndChecksums(t *testing.T) {
	lb := newLoopback("")
	c := NewCodec(lb)

	require.NoError(t, c.Send([]byte("OK")))
	assert.Equal(t, "$OK#9a", lb.out.String())
}
