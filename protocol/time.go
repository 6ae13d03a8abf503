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

// EpochOffsetSeconds is the difference in seconds between the NTP epoch
// (1900-01-01 UTC) and the Unix epoch (1970-01-01 UTC).
const EpochOffsetSeconds = int64(2208988800)

const twoPow32 = float64(1) << 32

// NTPToSeconds converts a 64-bit NTP fixed-point timestamp (32.32, seconds
// since 1900) into a float64 of seconds since the Unix epoch.
func NTPToSeconds(ntp uint64) float64 {
	sec := int64(ntp>>32) - EpochOffsetSeconds
	frac := float64(uint32(ntp)) / twoPow32
	return float64(sec) + frac
}

// SecondsToNTP converts a float64 of seconds since the Unix epoch into a
// 64-bit NTP fixed-point timestamp (32.32, seconds since 1900).
func SecondsToNTP(unixSeconds float64) uint64 {
	sec := int64(unixSeconds) + EpochOffsetSeconds
	frac := unixSeconds - float64(int64(unixSeconds))
	if frac < 0 {
		sec--
		frac += 1
	}
	return uint64(sec)<<32 | uint64(frac*twoPow32)
}

// ShortToSeconds converts a 32-bit NTP short fixed-point value (16.16) to
// a float64 number of seconds. Used for RootDelay/RootDispersion.
func ShortToSeconds(v int32) float64 {
	return float64(v) / float64(1<<16)
}

// ShortUnsignedToSeconds is ShortToSeconds for the unsigned RootDispersion
// field.
func ShortUnsignedToSeconds(v uint32) float64 {
	return float64(v) / float64(1<<16)
}
