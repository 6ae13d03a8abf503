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

// Package slew converts a discrete offset update into a smooth,
// monotonicity-preserving ramp of the externally visible "slewed" offset.
//
// The original engine advanced slewedOffset on a timer, sleeping
// max_offset_sec*2 seconds between each increment of ofs_rel/range_ms.
// Per spec.md §9's "slew loop busy-sleep" design note, this implementation
// instead derives the ramp analytically: a Ramp records the start time,
// start/target values and a fixed rate, and ValueAt recomputes the
// instantaneous slewed offset directly from elapsed monotonic time. This
// makes the result independent of scheduler jitter on whatever goroutine
// would otherwise have been ticking the sleep loop, while reproducing
// the exact same rate and duration the original computed.
package slew

// Ramp describes a linear transition of the slewed offset from Start to
// Target, beginning at StartMono (a hostclock.Mono() reading).
type Ramp struct {
	StartMono   int64
	Start       float64
	Target      float64
	RatePerSec  float64 // signed: seconds of offset change per second of real time
	DurationSec float64
}

// NewRamp builds the ramp for a non-initial adjustment, reproducing
//
//	range_ms = (|ofsRel| / maxOffsetSec) * 2000
//	inc      = ofsRel / range_ms
//	step     = maxOffsetSec * 2 seconds
//
// from spec §4.6. ofsRel is target-start; when it is exactly zero the ramp
// is already at its target.
func NewRamp(startMono int64, start, target, maxOffsetSec float64) Ramp {
	ofsRel := target - start
	if ofsRel == 0 {
		return Ramp{StartMono: startMono, Start: start, Target: target}
	}

	rangeMs := (abs(ofsRel) / maxOffsetSec) * 2000
	inc := ofsRel / rangeMs
	stepSeconds := maxOffsetSec * 2
	rate := inc / stepSeconds

	return Ramp{
		StartMono:   startMono,
		Start:       start,
		Target:      target,
		RatePerSec:  rate,
		DurationSec: abs(ofsRel) / abs(rate),
	}
}

// Immediate returns a ramp that is already at target at startMono, used for
// the abrupt first-adjustment step (spec §4.5) and as the zero value.
func Immediate(startMono int64, target float64) Ramp {
	return Ramp{StartMono: startMono, Start: target, Target: target}
}

// ValueAt returns the slewed offset at monoNow. Before StartMono it returns
// Start; at or after StartMono+DurationSec it returns Target exactly,
// matching the original's final `slewed_offset = offset` assignment.
func (r Ramp) ValueAt(monoNow int64) float64 {
	elapsedSec := float64(monoNow-r.StartMono) / 1e9
	if elapsedSec <= 0 {
		return r.Start
	}
	if r.DurationSec <= 0 || elapsedSec >= r.DurationSec {
		return r.Target
	}
	return r.Start + r.RatePerSec*elapsedSec
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
