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

// Package rsp is the packet codec and command dispatcher:
// RSP packet framing over a byte stream, and the literal/regex dispatch
// tables that turn a decoded payload into a reply.
package rsp

import (
	"bufio"
	"fmt"
	"io"

	"github.com/talismancer/vmcore-gdbstub/internal/log"
)

// Outcome describes what happened on one Receive call.
type Outcome int

const (
	// OutcomeOK means payload holds a checksum-valid packet.
	OutcomeOK Outcome = iota
	// OutcomeChecksumMismatch means a '-' ack was already sent (unless
	// NoAck mode is active) and the caller should call Receive again.
	OutcomeChecksumMismatch
	// OutcomeConnectionLost means the stream ended; the server loop
	// should close up and exit.
	OutcomeConnectionLost
)

// Codec frames RSP packets ($payload#cc) over a byte stream.
type Codec struct {
	r     *bufio.Reader
	w     *bufio.Writer
	noAck bool
}

// NewCodec wraps rw for RSP framing.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// SetNoAckMode enables or disables ack emission on Receive.
func (c *Codec) SetNoAckMode(v bool) { c.noAck = v }

// checksum is the 8-bit sum of payload mod 256.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Receive reads the next packet from the stream, per the documented
// receive algorithm: skip to '$', accumulate the payload to '#', read the
// two-hex-digit checksum, and (outside NoAck mode) ack or nack it.
func (c *Codec) Receive() ([]byte, Outcome, error) {
	for {
		// 1. Consume bytes until '$' is seen.
		for {
			b, err := c.r.ReadByte()
			if err != nil {
				return nil, OutcomeConnectionLost, err
			}
			if b == '$' {
				break
			}
		}

		// 2. Accumulate payload until '#', summing as we go.
		var payload []byte
		for {
			b, err := c.r.ReadByte()
			if err != nil {
				return nil, OutcomeConnectionLost, err
			}
			if b == '#' {
				break
			}
			payload = append(payload, b)
		}

		// 3. Read the two-hex-digit checksum.
		var hex [2]byte
		if _, err := io.ReadFull(c.r, hex[:]); err != nil {
			return nil, OutcomeConnectionLost, err
		}
		var want byte
		if _, err := fmt.Sscanf(string(hex[:]), "%02x", &want); err != nil {
			return nil, OutcomeConnectionLost, err
		}

		if c.noAck {
			log.Debugf("recv (noack): %s", payload)
			return payload, OutcomeOK, nil
		}

		got := checksum(payload)
		if got != want {
			log.Debugf("recv checksum mismatch: got %02x want %02x, payload %q", got, want, payload)
			if err := c.writeRaw("-"); err != nil {
				return nil, OutcomeConnectionLost, err
			}
			return nil, OutcomeChecksumMismatch, nil
		}
		if err := c.writeRaw("+"); err != nil {
			return nil, OutcomeConnectionLost, err
		}
		log.Debugf("recv: %s", payload)
		return payload, OutcomeOK, nil
	}
}

// Send frames and writes a reply payload, flushing immediately.
func (c *Codec) Send(payload []byte) error {
	log.Debugf("send: %s", payload)
	if _, err := fmt.Fprintf(c.w, "$%s#%02x", payload, checksum(payload)); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Codec) writeRaw(s string) error {
	if _, err := c.w.WriteString(s); err != nil {
		return err
	}
	return c.w.Flush()
}
