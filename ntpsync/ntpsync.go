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

// Package ntpsync is the public surface of the NTP client synchronization
// engine: a unicast client that continuously estimates and smoothly
// corrects a monotonic, wall-clock-aligned virtual clock against a single
// remote server.
//
// The engine is an explicit handle (Engine), not process-wide global
// state: construct one with New, Start it against a server, and read time
// from it with GetTime/MonotonicTime for as long as it runs.
package ntpsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/syncloop"
	"github.com/facebook/ntpsync/internal/syncstats"
	"github.com/facebook/ntpsync/internal/timemodel"
	"github.com/facebook/ntpsync/internal/transport"
	"github.com/facebook/ntpsync/protocol"
)

// ErrorKind is the engine's closed error taxonomy (stable ordinal order:
// no, send, receive, version, kod, unexpected, accuracy_broken).
type ErrorKind = syncloop.ErrorKind

// Error kind constants, re-exported from the internal sync loop so callers
// never need to import an internal package.
const (
	ErrNone           = syncloop.ErrNone
	ErrSend           = syncloop.ErrSend
	ErrReceive        = syncloop.ErrReceive
	ErrVersion        = syncloop.ErrVersion
	ErrKod            = syncloop.ErrKod
	ErrUnexpected     = syncloop.ErrUnexpected
	ErrAccuracyBroken = syncloop.ErrAccuracyBroken
)

// receiveTimeout is the UDP socket's fixed receive timeout (spec §5).
const receiveTimeout = 500 * time.Millisecond

// udpPort is the standard NTP service port.
const udpPort = 123

// Engine synchronizes a local virtual clock against one NTP server. The
// zero value is not usable; construct with New.
type Engine struct {
	model *timemodel.TimeModel

	mu       sync.Mutex
	loop     *syncloop.Loop
	cancel   context.CancelFunc
	group    *errgroup.Group
	started  bool
	everUsed bool
	port     int // overridable by tests; zero means udpPort

	onError    func(ErrorKind)
	errOnce    sync.Once
	metrics    *syncstats.Exporter
	userOrigin struct {
		ntp uint64
		ms  float64
	}
}

// New returns an uninitialized Engine.
func New() *Engine {
	return &Engine{model: timemodel.New()}
}

// OnError registers a callback invoked exactly once, from the sync loop's
// goroutine, the first time the engine hits a terminal error. Start
// captures the registered callback, so only a call made before Start takes
// effect.
func (e *Engine) OnError(fn func(ErrorKind)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Start resolves host, opens the UDP channel, anchors the TimeModel, and
// spawns the sync loop. It blocks until the engine becomes synchronized or
// hits a terminal error, then returns nil on success or the terminal
// error. interSyncDelayMs must be greater than 1000 (spec §6: rejects
// inter_sync_delay_ms*1000 <= INTER_SYNC_DELAY_MIN).
func (e *Engine) Start(host string, maxOffsetMs, interSyncDelayMs float64) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("ntpsync: engine already started")
	}
	if e.everUsed {
		e.mu.Unlock()
		return fmt.Errorf("ntpsync: engine is not restartable after Stop; construct a new Engine")
	}
	interSyncDelayUsec := int64(interSyncDelayMs * 1000)
	if interSyncDelayUsec <= 1_000_000 {
		e.mu.Unlock()
		return fmt.Errorf("ntpsync: inter_sync_delay_ms too small: %v ms", interSyncDelayMs)
	}

	port := e.port
	if port == 0 {
		port = udpPort
	}
	channel, err := transport.Open(host, port, receiveTimeout)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("ntpsync: opening udp channel: %w", err)
	}

	readings := make([]hostclock.WallReading, timemodel.AnchorTrials)
	for i := range readings {
		readings[i] = hostclock.SampleWall()
	}
	e.model.Anchor(readings)

	cfg := syncloop.Config{
		MaxOffsetSec:       maxOffsetMs / 1000,
		InterSyncDelayUsec: interSyncDelayUsec,
	}
	loop := syncloop.New(cfg, e.model, channel)
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	e.loop = loop
	e.cancel = cancel
	e.group = group
	e.started = true
	e.everUsed = true
	onError := e.onError
	e.mu.Unlock()

	ready := make(chan struct{})
	group.Go(func() error {
		defer channel.Close()
		loop.Run(groupCtx, ready)
		if k := loop.Error(); k != ErrNone {
			if onError != nil {
				e.errOnce.Do(func() { onError(k) })
			}
			return fmt.Errorf("ntpsync: %s", k)
		}
		return nil
	})

	<-ready
	if k := loop.Error(); k != ErrNone {
		log.WithField("error", k).Warning("ntpsync: start failed")
		return fmt.Errorf("ntpsync: %s", k)
	}
	e.SetTime(0)
	log.Info("ntpsync: synchronized")
	return nil
}

// Stop is idempotent: it cancels the sync loop, waits for it to exit, and
// marks the engine uninitialized. No further callbacks fire afterward.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	group := e.group
	e.started = false
	e.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// Stopped reports whether the engine is not currently running (either
// never started, or Stop has completed). Exposed so a concurrent reader
// can tell whether GetTime is still being actively corrected — per the
// design decision that the engine is not restartable in place: after a
// terminal error a fresh Engine must be constructed.
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.started
}

// SetTime anchors a user-defined time origin ms milliseconds before now:
// subsequent GetTime calls return ms plus the milliseconds elapsed since
// this call, measured against the engine's slewed wall clock.
func (e *Engine) SetTime(ms float64) {
	now := e.model.SlewedUnixNow(hostclock.Mono())
	originUnix := now - ms/1000
	e.mu.Lock()
	e.userOrigin.ntp = protocol.SecondsToNTP(originUnix)
	e.userOrigin.ms = originUnix * 1000
	e.mu.Unlock()
}

// GetTime returns milliseconds elapsed since the SetTime-established
// origin, measured against the current slewed wall clock.
func (e *Engine) GetTime() float64 {
	now := e.model.SlewedUnixNow(hostclock.Mono()) * 1000
	e.mu.Lock()
	origin := e.userOrigin.ms
	e.mu.Unlock()
	return now - origin
}

// StartTime returns the user origin established by the most recent
// SetTime call, in milliseconds.
func (e *Engine) StartTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userOrigin.ms
}

// Error returns the engine's current terminal error kind, ErrNone if none
// has occurred.
func (e *Engine) Error() ErrorKind {
	e.mu.Lock()
	loop := e.loop
	e.mu.Unlock()
	if loop == nil {
		return ErrNone
	}
	return loop.Error()
}

// MonotonicTime returns the host monotonic clock in milliseconds,
// bypassing the TimeModel entirely.
func (e *Engine) MonotonicTime() float64 {
	return float64(hostclock.Mono()) / 1e6
}

// MetricsHandler returns an http.Handler serving this engine's current
// offset/delay/synchronized diagnostics in Prometheus exposition format.
// It must be called after Start; the returned handler stays valid across
// the engine's lifetime.
func (e *Engine) MetricsHandler() http.Handler {
	e.mu.Lock()
	exp := e.exporter()
	e.mu.Unlock()
	return exp.Handler()
}

// ServeMetrics refreshes the metrics exporter every interval and blocks
// serving it on addr until ctx is cancelled.
func (e *Engine) ServeMetrics(ctx context.Context, addr string, interval time.Duration) error {
	e.mu.Lock()
	exp := e.exporter()
	e.mu.Unlock()

	go exp.Run(ctx, interval)

	srv := &http.Server{Addr: addr, Handler: exp.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Infof("serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// exporter lazily builds the engine's metrics exporter. Callers must hold
// e.mu.
func (e *Engine) exporter() *syncstats.Exporter {
	if e.metrics == nil {
		e.metrics = syncstats.NewExporter(e.model, e.loop)
	}
	return e.metrics
}
