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

// Package timemodel anchors the local monotonic timeline to wall-clock and
// NTP time once at startup, then tracks the running offset correction the
// sample filter derives from each batch of measurements.
//
// A TimeModel is read concurrently from any number of caller goroutines
// (GetTime/SetTime on the public API) while a single syncloop
// goroutine is the only writer. Every write replaces one atomic.Pointer to
// a snapshot struct, so a reader never observes a torn combination of
// offset, slew ramp and the synchronized flag — this is what lets
// Synchronized() and SlewedOffset() be called independently by a reader and
// still agree on whether the first sync has already published.
package timemodel

import (
	"sync"
	"sync/atomic"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/slew"
	"github.com/facebook/ntpsync/protocol"
)

// AnchorTrials is the number of bracketed wall-clock reads taken at Anchor
// time; the reading with the smallest bracket delay is kept, following the
// original engine's best-of-K selection for the reference instant.
const AnchorTrials = 20

type snapshot struct {
	ramp         slew.Ramp
	synchronized bool
	delay        float64
	ofsRel       float64
	ofsRelMin    float64
	ofsRelMax    float64
	adjustments  int
}

// TimeModel holds the anchor and the current offset/slew state.
type TimeModel struct {
	t0Mono   int64
	t0Wall   float64 // unix seconds, fractional
	t0NTP    uint64
	anchored atomic.Bool

	cur atomic.Pointer[snapshot]

	// mu serializes Adjust calls (the syncloop goroutine calls Adjust once
	// per batch; Anchor runs once before the loop starts and does not take
	// it). The read path never takes it.
	mu sync.Mutex
}

// New returns a TimeModel with no anchor and no synchronization yet.
func New() *TimeModel {
	tm := &TimeModel{}
	tm.cur.Store(&snapshot{})
	return tm
}

// Anchor fixes t0: the monotonic reading paired with the best (smallest
// bracket-delay) of readings wall chooses among. Anchor must be called
// exactly once, before any goroutine reads GetTime/SetTime.
func (tm *TimeModel) Anchor(readings []hostclock.WallReading) {
	best := readings[0]
	for _, r := range readings[1:] {
		if r.Delay() < best.Delay() {
			best = r
		}
	}
	tm.t0Mono = best.MonoAfter - best.Delay()/2
	tm.t0Wall = float64(best.Wall.UnixNano()) / 1e9
	tm.t0NTP = protocol.SecondsToNTP(tm.t0Wall)
	tm.anchored.Store(true)
}

// Anchored reports whether Anchor has run.
func (tm *TimeModel) Anchored() bool {
	return tm.anchored.Load()
}

// localElapsed is the unadjusted local clock's offset from the anchor, in
// seconds of elapsed monotonic time, before any sample-derived correction.
func (tm *TimeModel) localElapsed(monoNow int64) float64 {
	return float64(monoNow-tm.t0Mono) / 1e9
}

// UnixNow returns the unslewed local-clock estimate of the current Unix
// time: the anchor plus raw elapsed monotonic time plus the latest offset
// correction, applied as a step. Used internally for dispersion/age
// computations where the smooth slew isn't needed.
func (tm *TimeModel) UnixNow(monoNow int64) float64 {
	return tm.t0Wall + tm.localElapsed(monoNow) + tm.cur.Load().ramp.Target
}

// NtpNow is UnixNow expressed as an NTP 32.32 timestamp, used to stamp the
// ReferenceTime field of outgoing client packets.
func (tm *TimeModel) NtpNow(monoNow int64) uint64 {
	return protocol.SecondsToNTP(tm.UnixNow(monoNow))
}

// SlewedOffset returns the smoothly-ramping offset correction at monoNow,
// per the active (or most recently completed) Ramp.
func (tm *TimeModel) SlewedOffset(monoNow int64) float64 {
	return tm.cur.Load().ramp.ValueAt(monoNow)
}

// SlewedUnixNow is UnixNow but using the smoothed SlewedOffset in place of
// the raw step offset; this is the basis for the public API's monotonic,
// jump-free GetTime().
func (tm *TimeModel) SlewedUnixNow(monoNow int64) float64 {
	return tm.t0Wall + tm.localElapsed(monoNow) + tm.SlewedOffset(monoNow)
}

// Synchronized reports whether the most recent adjustment's |ofsRel| was
// below the maxOffsetSec passed to Adjust; it is false before any
// adjustment.
func (tm *TimeModel) Synchronized() bool {
	return tm.cur.Load().synchronized
}

// Adjustments returns the number of adjustments applied so far.
func (tm *TimeModel) Adjustments() int {
	return tm.cur.Load().adjustments
}

// Diagnostics returns the current/min/max relative offset and round-trip
// delay recorded by the most recent adjustment, for the diag/metrics
// surface.
func (tm *TimeModel) Diagnostics() (ofsRel, ofsRelMin, ofsRelMax, delay float64) {
	s := tm.cur.Load()
	return s.ofsRel, s.ofsRelMin, s.ofsRelMax, s.delay
}

// AdjustResult reports the synchronization transition caused by one Adjust
// call, which the Adjuster needs to decide whether accuracy has broken.
type AdjustResult struct {
	WasSynchronized bool
	Synchronized    bool
	Adjustments     int
}

// Adjust applies one batch's chosen sample to the model: it folds ofsRel
// into the running offset, starts (or, on the first call, snaps) the slew
// ramp toward the new offset, and publishes the updated snapshot in one
// atomic store so Synchronized() and SlewedOffset() never disagree about
// whether the first sync has happened.
//
// maxOffsetSec bounds both the slew rate (spec §4.6) and the synchronized
// threshold (spec §4.5: synchronized iff |ofsRel| < maxOffsetSec). It is
// ignored for the slew computation on the first adjustment, which steps
// slewedOffset to the new offset immediately instead of ramping, matching
// the original engine's "adjustments == 1" special case.
func (tm *TimeModel) Adjust(monoNow int64, ofsRel, delay, maxOffsetSec float64) AdjustResult {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	prev := tm.cur.Load()
	target := prev.ramp.Target + ofsRel

	next := &snapshot{
		synchronized: abs(ofsRel) < maxOffsetSec,
		delay:        delay,
		ofsRel:       ofsRel,
		ofsRelMin:    prev.ofsRelMin,
		ofsRelMax:    prev.ofsRelMax,
		adjustments:  prev.adjustments + 1,
	}
	switch {
	case next.adjustments == 2:
		next.ofsRelMin = ofsRel
		next.ofsRelMax = ofsRel
	case next.adjustments > 2:
		if ofsRel < next.ofsRelMin {
			next.ofsRelMin = ofsRel
		}
		if ofsRel > next.ofsRelMax {
			next.ofsRelMax = ofsRel
		}
	}

	if next.adjustments == 1 {
		next.ramp = slew.Immediate(monoNow, target)
	} else {
		start := prev.ramp.ValueAt(monoNow)
		next.ramp = slew.NewRamp(monoNow, start, target, maxOffsetSec)
	}

	tm.cur.Store(next)

	return AdjustResult{
		WasSynchronized: prev.synchronized,
		Synchronized:    next.synchronized,
		Adjustments:     next.adjustments,
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
