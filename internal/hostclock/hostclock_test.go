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

package hostclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonoMonotonicallyIncreases(t *testing.T) {
	a := Mono()
	time.Sleep(time.Millisecond)
	b := Mono()
	require.Greater(t, b, a)
}

func TestSampleWallBrackets(t *testing.T) {
	w := SampleWall()
	require.GreaterOrEqual(t, w.MonoAfter, w.MonoBefore)
	require.GreaterOrEqual(t, w.Delay(), int64(0))
	require.False(t, w.Wall.IsZero())
}
