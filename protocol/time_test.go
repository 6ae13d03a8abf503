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

package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNTPSecondsRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 1755000000.5, 1755000000.123456}
	for _, unixSeconds := range cases {
		ntp := SecondsToNTP(unixSeconds)
		got := NTPToSeconds(ntp)
		require.InDelta(t, unixSeconds, got, 1e-6)
	}
}

func TestEpochOffsetSeconds(t *testing.T) {
	// 1970-01-01 expressed in NTP seconds is exactly the epoch offset.
	ntp := SecondsToNTP(0)
	require.Equal(t, EpochOffsetSeconds, int64(ntp>>32))
}

func TestShortToSeconds(t *testing.T) {
	require.Equal(t, 1.0, ShortToSeconds(1<<16))
	require.Equal(t, -1.0, ShortToSeconds(-(1 << 16)))
	require.True(t, math.Abs(ShortToSeconds(1)-1.0/65536) < 1e-9)
}

func TestShortUnsignedToSeconds(t *testing.T) {
	require.Equal(t, 1.0, ShortUnsignedToSeconds(1<<16))
}
