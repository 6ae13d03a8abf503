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

// Package syncloop drives the long-running poll cycle: build a client
// packet, send it, receive and validate the server's reply, fold the
// result into a batch, and periodically run the Adjuster.
package syncloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/sample"
	"github.com/facebook/ntpsync/internal/timemodel"
	"github.com/facebook/ntpsync/internal/transport"
	"github.com/facebook/ntpsync/protocol"
)

// ErrorKind is the engine's closed error taxonomy, in stable ordinal order.
type ErrorKind int32

const (
	ErrNone ErrorKind = iota
	ErrSend
	ErrReceive
	ErrVersion
	ErrKod
	ErrUnexpected
	ErrAccuracyBroken
)

var errorNames = map[ErrorKind]string{
	ErrNone:           "no",
	ErrSend:           "send",
	ErrReceive:        "receive",
	ErrVersion:        "version",
	ErrKod:            "kod",
	ErrUnexpected:     "unexpected",
	ErrAccuracyBroken: "accuracy_broken",
}

func (e ErrorKind) String() string {
	if s, ok := errorNames[e]; ok {
		return s
	}
	return "unknown"
}

// minInterSyncDelayUsec is the hard floor for the backoff schedule
// (spec §4.3: INTER_SYNC_DELAY_MIN).
const minInterSyncDelayUsec = 1_000_000

// maxDispersionSeconds is MAXDISP from RFC 5905: a header whose own
// advertised error bound already exceeds this is rejected outright.
const maxDispersionSeconds = 16

// Config holds the fixed parameters of one sync loop run.
type Config struct {
	MaxOffsetSec       float64
	InterSyncDelayUsec int64
}

// Loop owns the UDP channel, the sample batch, and the previous-exchange
// bookkeeping needed to reject replayed or bogus responses.
type Loop struct {
	cfg     Config
	channel *transport.Channel
	model   *timemodel.TimeModel
	adj     *sample.Adjuster

	batch sample.Batch

	previousXmt    uint64
	previousOrigin uint64
	lastSyncNTP    uint64

	errKind   atomic.Int32
	readyOnce sync.Once
}

// New builds a Loop ready to Run against an already-anchored TimeModel and
// an already-open transport channel.
func New(cfg Config, model *timemodel.TimeModel, channel *transport.Channel) *Loop {
	return &Loop{
		cfg:     cfg,
		channel: channel,
		model:   model,
		adj:     &sample.Adjuster{Model: model, MaxOffsetSec: cfg.MaxOffsetSec},
	}
}

// Error returns the terminal error recorded by Run, or ErrNone if the loop
// is still running or exited via context cancellation.
func (l *Loop) Error() ErrorKind {
	return ErrorKind(l.errKind.Load())
}

func (l *Loop) setError(k ErrorKind) {
	l.errKind.Store(int32(k))
}

// Run drives the poll cycle until ctx is cancelled or a terminal error
// occurs. ready is closed exactly once, the first time the engine becomes
// synchronized or hits a terminal error — the same signal PublicApi.Start
// blocks on.
func (l *Loop) Run(ctx context.Context, ready chan<- struct{}) {
	signalReady := func() {
		l.readyOnce.Do(func() { close(ready) })
	}

	backoff := int64(minInterSyncDelayUsec)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cycleStart := hostclock.Mono()
		full, fatal := l.cycle()
		if fatal != ErrNone {
			l.setError(fatal)
			signalReady()
			return
		}

		if full {
			l.runAdjuster()
			if l.model.Synchronized() {
				signalReady()
			}
			if l.Error() == ErrAccuracyBroken {
				signalReady()
				return
			}

			cycleCostUsec := (hostclock.Mono() - cycleStart) / 1000
			sleepUsec := backoff - cycleCostUsec
			if sleepUsec > 0 {
				l.cooperativeSleep(ctx, time.Duration(sleepUsec)*time.Microsecond)
			}
			backoff *= 2
			if backoff > l.cfg.InterSyncDelayUsec {
				backoff = l.cfg.InterSyncDelayUsec
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// cooperativeSleep sleeps in chunks no longer than one second so stop()
// can cancel with bounded latency.
func (l *Loop) cooperativeSleep(ctx context.Context, d time.Duration) {
	for d > 0 {
		chunk := d
		if chunk > time.Second {
			chunk = time.Second
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		d -= chunk
	}
}

// runAdjuster applies the full batch and marks ErrAccuracyBroken if the
// Adjuster decides accuracy has broken down.
func (l *Loop) runAdjuster() {
	tsyncMono := hostclock.Mono()
	accuracyBroken := l.adj.Apply(&l.batch)
	l.batch.Reset()
	l.lastSyncNTP = l.model.NtpNow(tsyncMono)
	if accuracyBroken {
		l.setError(ErrAccuracyBroken)
	}
}

// cycle runs one send/receive/validate round. full reports whether the
// stored sample filled the batch (an ignorable response stores nothing
// and never fills it).
func (l *Loop) cycle() (full bool, fatal ErrorKind) {
	req := protocol.NewClientPacket(l.lastSyncNTP)

	sendBegin := hostclock.Mono()
	req.TransmitTime = l.model.NtpNow(sendBegin)
	buf, err := req.Encode()
	if err != nil {
		log.WithError(err).Error("encoding client packet")
		return false, ErrUnexpected
	}

	if err := l.channel.Send(buf); err != nil {
		log.WithError(err).Warning("sending ntp request")
		return false, ErrSend
	}
	sendEnd := hostclock.Mono()
	recvBegin := sendEnd
	xmt := req.TransmitTime

	respBuf := make([]byte, protocol.PacketSizeBytes)
	if err := l.channel.Receive(respBuf); err != nil {
		log.WithError(err).Warning("receiving ntp response")
		return false, ErrReceive
	}
	recvEnd := hostclock.Mono()

	resp, err := protocol.Decode(respBuf)
	if err != nil {
		log.WithError(err).Warning("decoding ntp response")
		return false, ErrReceive
	}

	// Only a broadcast reply is ignored ahead of the fatal checks; the other
	// ignorable cases are checked after them.
	if resp.Mode != protocol.ModeBroadcast {
		if fatal := l.validateFatal(resp); fatal != ErrNone {
			l.updatePrevious(xmt, resp)
			return false, fatal
		}
	}

	if l.ignorable(resp, xmt) {
		l.updatePrevious(xmt, resp)
		return false, ErrNone
	}
	l.updatePrevious(xmt, resp)

	t4 := l.model.NtpNow(recvEnd)
	t1 := protocol.NTPToSeconds(xmt)
	t2 := protocol.NTPToSeconds(resp.ReceiveTime)
	t3 := protocol.NTPToSeconds(resp.TransmitTime)
	offset, delay, dispersion := sample.Compute(t1, t2, t3, protocol.NTPToSeconds(t4), resp.Precision)

	s := sample.Sample{
		SendBegin:  float64(sendBegin) / 1e9,
		SendEnd:    float64(sendEnd) / 1e9,
		RecvBegin:  float64(recvBegin) / 1e9,
		RecvEnd:    float64(recvEnd) / 1e9,
		Offset:     offset,
		Delay:      delay,
		Dispersion: dispersion,
	}
	return l.batch.Add(s), ErrNone
}

func (l *Loop) validateFatal(resp *protocol.Packet) ErrorKind {
	switch {
	case resp.VN > protocol.Version:
		log.Warningf("wrong ntp version in response: %d", resp.VN)
		return ErrVersion
	case resp.Stratum == 0:
		log.Warningf("kiss-of-death received: %s", resp.RefIDString())
		return ErrKod
	case resp.TransmitTime == 0:
		log.Warning("zero transmit timestamp in response")
		return ErrUnexpected
	}
	return ErrNone
}

func (l *Loop) ignorable(resp *protocol.Packet, xmt uint64) bool {
	switch {
	case resp.Mode == protocol.ModeBroadcast:
		log.Debug("ignoring broadcast response")
		return true
	case resp.TransmitTime == l.previousXmt:
		log.Debug("ignoring duplicate or replay response")
		return true
	case resp.TransmitTime == l.previousOrigin:
		log.Debug("ignoring bogus response")
		return true
	case resp.LI == protocol.LeapNotSynced || resp.Stratum >= protocol.MaxStratum:
		log.Debug("ignoring unsynchronized source")
		return true
	case protocol.ShortToSeconds(resp.RootDelay)/2+protocol.ShortUnsignedToSeconds(resp.RootDispersion) >= maxDispersionSeconds,
		resp.ReferenceTime > resp.TransmitTime:
		log.Debug("ignoring invalid header values")
		return true
	}
	return false
}

func (l *Loop) updatePrevious(xmt uint64, resp *protocol.Packet) {
	l.previousXmt = xmt
	l.previousOrigin = resp.TransmitTime
}
