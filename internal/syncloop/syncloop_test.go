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

package syncloop

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/sample"
	"github.com/facebook/ntpsync/internal/timemodel"
	"github.com/facebook/ntpsync/internal/transport"
	"github.com/facebook/ntpsync/protocol"
)

// mockServer is a scripted NTP server: each received request is handed to
// respond, whose returned packet (if non-nil) is sent back.
type mockServer struct {
	conn    *net.UDPConn
	respond func(req *protocol.Packet) *protocol.Packet
}

func newMockServer(t *testing.T, respond func(req *protocol.Packet) *protocol.Packet) (*mockServer, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	s := &mockServer{conn: conn, respond: respond}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	go s.serve()
	t.Cleanup(func() { _ = conn.Close() })
	return s, port
}

func (s *mockServer) serve() {
	buf := make([]byte, protocol.PacketSizeBytes)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n != protocol.PacketSizeBytes {
			continue
		}
		req, err := protocol.Decode(buf)
		if err != nil {
			continue
		}
		resp := s.respond(req)
		if resp == nil {
			continue
		}
		out, err := resp.Encode()
		if err != nil {
			continue
		}
		_, _ = s.conn.WriteToUDP(out, from)
	}
}

func newLoop(t *testing.T, port int, cfg Config) *Loop {
	t.Helper()
	tm := timemodel.New()
	readings := make([]hostclock.WallReading, timemodel.AnchorTrials)
	for i := range readings {
		readings[i] = hostclock.SampleWall()
	}
	tm.Anchor(readings)

	ch, err := transport.Open("127.0.0.1", port, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	return New(cfg, tm, ch)
}

func runWithTimeout(t *testing.T, l *Loop, timeout time.Duration) chan struct{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		l.Run(ctx, ready)
		close(done)
	}()
	t.Cleanup(func() { <-done })
	return ready
}

func TestHappySyncReachesSynchronized(t *testing.T) {
	// The client's clock starts 100ms behind the server. Every reply is
	// built as the client's own transmit stamp plus a residual skew: the
	// skew stays at the full 100ms for the first batch (the client hasn't
	// applied any correction yet to ofset its own TransmitTime stamps),
	// then drops to 0 once that batch's Adjuster step has run, since from
	// then on the client's own (now-corrected) transmit stamps already
	// carry the 100ms correction. Without this the residual offset would
	// stay pinned at 100ms forever and the engine would never satisfy
	// the synchronized threshold.
	var served atomic.Int64
	_, port := newMockServer(t, func(req *protocol.Packet) *protocol.Packet {
		skew := 0.100
		if served.Add(1) > sample.BatchSize {
			skew = 0
		}
		t2 := protocol.NTPToSeconds(req.TransmitTime) + skew
		t3 := t2 + 0.000001
		return &protocol.Packet{
			LI: protocol.LeapNoWarning, VN: protocol.Version, Mode: protocol.ModeServer,
			Stratum: 1, Poll: 6, Precision: -20,
			ReceiveTime:  protocol.SecondsToNTP(t2),
			TransmitTime: protocol.SecondsToNTP(t3),
			OriginTime:   req.TransmitTime,
		}
	})

	l := newLoop(t, port, Config{MaxOffsetSec: 0.0005, InterSyncDelayUsec: 1_000_000})
	ready := runWithTimeout(t, l, 5*time.Second)

	select {
	case <-ready:
	case <-time.After(4 * time.Second):
		t.Fatal("never became ready")
	}
	require.Equal(t, ErrNone, l.Error())
}

func TestKissOfDeathTerminatesWithKodError(t *testing.T) {
	_, port := newMockServer(t, func(req *protocol.Packet) *protocol.Packet {
		return &protocol.Packet{
			LI: protocol.LeapNotSynced, VN: protocol.Version, Mode: protocol.ModeServer,
			Stratum: 0, ReferenceID: refIDFrom("DENY"),
			TransmitTime: protocol.SecondsToNTP(1000),
		}
	})

	l := newLoop(t, port, Config{MaxOffsetSec: 0.0005, InterSyncDelayUsec: 1_000_000})
	ready := runWithTimeout(t, l, 2*time.Second)

	select {
	case <-ready:
	case <-time.After(1 * time.Second):
		t.Fatal("never became ready")
	}
	require.Equal(t, ErrKod, l.Error())
}

func TestVersionFaultTerminatesWithVersionError(t *testing.T) {
	_, port := newMockServer(t, func(req *protocol.Packet) *protocol.Packet {
		return &protocol.Packet{
			LI: protocol.LeapNoWarning, VN: 5, Mode: protocol.ModeServer,
			Stratum: 1, TransmitTime: protocol.SecondsToNTP(1000),
		}
	})

	l := newLoop(t, port, Config{MaxOffsetSec: 0.0005, InterSyncDelayUsec: 1_000_000})
	ready := runWithTimeout(t, l, 2*time.Second)

	select {
	case <-ready:
	case <-time.After(1 * time.Second):
		t.Fatal("never became ready")
	}
	require.Equal(t, ErrVersion, l.Error())
}

func TestBogusStormNeverSynchronizesOrErrors(t *testing.T) {
	_, port := newMockServer(t, func(req *protocol.Packet) *protocol.Packet {
		return &protocol.Packet{
			LI: protocol.LeapNoWarning, VN: protocol.Version, Mode: protocol.ModeServer,
			Stratum: 1, TransmitTime: 0x0102030405060708,
			ReceiveTime: 0x0102030405060708,
		}
	})

	l := newLoop(t, port, Config{MaxOffsetSec: 0.0005, InterSyncDelayUsec: 1_000_000})
	ready := runWithTimeout(t, l, 1500*time.Millisecond)

	select {
	case <-ready:
		t.Fatal("should never become ready on a bogus-only stream")
	case <-time.After(1200 * time.Millisecond):
	}
	require.Equal(t, ErrNone, l.Error())
}

func refIDFrom(s string) uint32 {
	b := []byte(s)
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
