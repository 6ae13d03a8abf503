/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport is the UdpChannel collaborator: a connected UDP
// datagram socket with a receive timeout. send/receive are blocking;
// receive returns an error on a short read or on timeout.
package transport

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/ntpsync/internal/wiretrace"
)

// Channel is a connected UDP datagram socket with a fixed receive timeout,
// the Go analogue of UdpConn.c's udp_open/udp_send/udp_receive/udp_close.
type Channel struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// Open resolves host:port and connects a UDP socket to it, applying
// timeout to every subsequent Receive call.
func Open(host string, port int, timeout time.Duration) (*Channel, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s:%d: %w", host, port, err)
	}
	return &Channel{conn: conn, timeout: timeout}, nil
}

// Send writes buf in one datagram. A short write is reported as an error,
// matching the original's "sent length != packet length" failure.
func (c *Channel) Send(buf []byte) error {
	n, err := c.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	wiretrace.HexDump("udp send", buf)
	if n != len(buf) {
		return fmt.Errorf("udp send: short write %d of %d bytes", n, len(buf))
	}
	return nil
}

// Receive blocks until a datagram of exactly len(buf) bytes arrives or the
// channel's timeout elapses. A datagram of the wrong size is reported as
// an error rather than silently truncated or zero-padded.
func (c *Channel) Receive(buf []byte) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("udp receive: %w", err)
	}
	wiretrace.HexDump("udp recv", buf[:n])
	if n != len(buf) {
		return fmt.Errorf("udp receive: short read %d of %d bytes", n, len(buf))
	}
	return nil
}

// Close releases the underlying socket. It is not idempotent: a second call
// returns the error of closing an already-closed socket.
func (c *Channel) Close() error {
	log.Debug("closing udp channel")
	return c.conn.Close()
}
