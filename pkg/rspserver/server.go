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

// Package rspserver is the server loop: it accepts exactly
// one TCP connection and drives the Packet Codec and Command Dispatcher
// until a termination command or disconnect.
package rspserver

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/talismancer/vmcore-gdbstub/internal/log"
	"github.com/talismancer/vmcore-gdbstub/pkg/dumplib"
	"github.com/talismancer/vmcore-gdbstub/pkg/rsp"
	"github.com/talismancer/vmcore-gdbstub/pkg/threadmodel"
)

// Serve binds hostname:port, accepts exactly one connection, and drives
// the RSP codec/dispatcher pair until the session ends or the connection
// is lost. Both the listening and client sockets are guaranteed to be
// closed on every exit path. onBound, if non-nil, runs once the listening
// socket is up and before the (blocking) accept — this is where the CLI's
// startup hints are printed, since they must follow a
// successful bind.
func Serve(ctx context.Context, hostname string, port int, lib dumplib.Library, model *threadmodel.Model, onBound func()) error {
	lc := net.ListenConfig{Control: setReuseAddr}
	addr := fmt.Sprintf("%s:%d", hostname, port)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	defer ln.Close()

	if onBound != nil {
		onBound()
	}
	log.Debugf("listening on %s", addr)
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accepting connection: %w", err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Warningf("setting TCP_NODELAY: %v", err)
		}
	}

	codec := rsp.NewCodec(conn)
	dispatcher := rsp.New(lib, model)

	for dispatcher.Session.Running {
		payload, outcome, err := codec.Receive()
		switch outcome {
		case rsp.OutcomeConnectionLost:
			log.Infof("connection lost: %v", err)
			return nil
		case rsp.OutcomeChecksumMismatch:
			continue
		}

		reply := dispatcher.Dispatch(payload)
		if err := codec.Send(reply); err != nil {
			log.Infof("connection lost while sending reply: %v", err)
			return nil
		}
		codec.SetNoAckMode(dispatcher.Session.NoAckMode)
	}
	return nil
}

// setReuseAddr is the net.ListenConfig.Control hook that sets SO_REUSEADDR
// on the listening socket before bind, the same way golang.org/x/sys/unix
// is used throughout the ptrace platform's socket plumbing.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
