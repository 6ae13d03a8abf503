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

// Package hostclock wraps the two host clock primitives the synchronization
// engine needs: a monotonic-nanosecond reading, and a one-shot wall-clock
// reading paired with a simultaneous monotonic reading, used only at
// startup to anchor NTP-epoch time to the local monotonic timeline.
package hostclock

import (
	"time"

	"golang.org/x/sys/unix"
)

// monotonicClockID prefers CLOCK_MONOTONIC_RAW, which is not subject to
// NTP/adjtime frequency discipline, the same preference the engine this
// was ported from applies on Linux.
const monotonicClockID = unix.CLOCK_MONOTONIC_RAW

// Mono returns a monotonic clock reading in nanoseconds. It has no defined
// relationship to wall-clock time and must only be used for computing
// elapsed durations against other Mono() readings.
func Mono() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(monotonicClockID, &ts); err != nil {
		// CLOCK_MONOTONIC_RAW is unsupported on some platforms (older
		// kernels, non-Linux); fall back to the regular monotonic clock.
		_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	}
	return ts.Nano()
}

// WallReading pairs a wall-clock sample with a monotonic reading taken
// immediately before and after it, bracketing the jitter of the
// gettimeofday-equivalent call.
type WallReading struct {
	MonoBefore int64
	Wall       time.Time
	MonoAfter  int64
}

// Delay is the monotonic span the wall-clock read took to complete; the
// smaller this is across several trials, the better the bracket's midpoint
// approximates the true monotonic instant at which Wall was sampled.
func (w WallReading) Delay() int64 {
	return w.MonoAfter - w.MonoBefore
}

// SampleWall takes one bracketed wall-clock reading.
func SampleWall() WallReading {
	before := Mono()
	wall := time.Now()
	after := Mono()
	return WallReading{MonoBefore: before, Wall: wall, MonoAfter: after}
}
