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

package ntpsync

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/timemodel"
	"github.com/facebook/ntpsync/protocol"
)

func anchorReadings() []hostclock.WallReading {
	readings := make([]hostclock.WallReading, timemodel.AnchorTrials)
	for i := range readings {
		readings[i] = hostclock.SampleWall()
	}
	return readings
}

func startMockServer(t *testing.T, respond func(req *protocol.Packet) *protocol.Packet) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	port := conn.LocalAddr().(*net.UDPAddr).Port

	go func() {
		buf := make([]byte, protocol.PacketSizeBytes)
		for {
			n, from, err := conn.ReadFromUDP(buf)
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
			resp := respond(req)
			if resp == nil {
				continue
			}
			out, err := resp.Encode()
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(out, from)
		}
	}()
	return port
}

func TestStartRejectsTooShortInterSyncDelay(t *testing.T) {
	e := New()
	err := e.Start("127.0.0.1", 0.5, 0.5)
	require.Error(t, err)
}

func TestStartStopLifecycleAgainstHappyServer(t *testing.T) {
	port := startMockServer(t, func(req *protocol.Packet) *protocol.Packet {
		t2 := protocol.NTPToSeconds(req.TransmitTime) + 0.010
		t3 := t2 + 0.000001
		return &protocol.Packet{
			LI: protocol.LeapNoWarning, VN: protocol.Version, Mode: protocol.ModeServer,
			Stratum: 1, Precision: -20,
			ReceiveTime:  protocol.SecondsToNTP(t2),
			TransmitTime: protocol.SecondsToNTP(t3),
		}
	})

	e := New()
	e.port = port
	err := e.Start("127.0.0.1", 50, 2000) // 50ms max_offset comfortably covers the server's 10ms offset
	require.NoError(t, err)
	require.False(t, e.Stopped())
	require.Equal(t, ErrNone, e.Error())

	e.Stop()
	require.True(t, e.Stopped())
	e.Stop() // idempotent

	require.Error(t, e.Start("127.0.0.1", 50, 2000)) // not restartable in place
}

func TestStartSurfacesReceiveTimeoutAsError(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close() // nothing listens, so every receive times out

	e := New()
	e.port = port
	err = e.Start("127.0.0.1", 5, 2000)
	require.Error(t, err)
	require.Equal(t, ErrReceive, e.Error())
}

func TestStoppedReflectsLifecycle(t *testing.T) {
	e := New()
	require.True(t, e.Stopped())
}

func TestSetTimeAndGetTimeRoundTrip(t *testing.T) {
	e := New()
	e.model.Anchor(anchorReadings())

	e.SetTime(1000)
	require.NotZero(t, e.StartTime())

	got := e.GetTime()
	require.InDelta(t, 1000.0, got, 50) // loose bound: wall clock advances between SetTime and GetTime
}

func TestMonotonicTimeAdvances(t *testing.T) {
	e := New()
	a := e.MonotonicTime()
	time.Sleep(time.Millisecond)
	b := e.MonotonicTime()
	require.Greater(t, b, a)
}

func TestOnErrorCallbackFiresOnce(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()

	e := New()
	e.port = port

	calls := make(chan ErrorKind, 2)
	e.OnError(func(k ErrorKind) { calls <- k })

	_ = e.Start("127.0.0.1", 5, 2000)
	e.Stop()

	select {
	case k := <-calls:
		require.Equal(t, ErrReceive, k)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	select {
	case <-calls:
		t.Fatal("callback fired more than once")
	default:
	}
}
