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

package smoothloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAroundFoldsHighSide(t *testing.T) {
	require.Equal(t, int32(-400), WrapAround(600, 500))
}

func TestWrapAroundFoldsLowSide(t *testing.T) {
	require.Equal(t, int32(400), WrapAround(-600, 500))
}

func TestWrapAroundLeavesInRangeUntouched(t *testing.T) {
	require.Equal(t, int32(300), WrapAround(300, 500))
	require.Equal(t, int32(-300), WrapAround(-300, 500))
}

func TestGetCycleMillisConvergesOverTwoCalls(t *testing.T) {
	l := New(1000, 100)

	s1 := l.GetCycleMillis(1010, 1000)
	require.Equal(t, uint32(0), s1)
	require.Equal(t, int32(10), l.offsetMillis)

	s2 := l.GetCycleMillis(2010, 2000)
	require.Equal(t, uint32(10), s2, "once offset catches up, returned position tracks the target exactly")
}

func TestGetCycleMillisIgnoresOneMillisecondOfSlop(t *testing.T) {
	l := New(1000, 100)
	l.GetCycleMillis(1001, 1000)
	require.Equal(t, int32(0), l.offsetMillis, "a one millisecond diff must not trigger a correction")
}

func TestGetCycleMillisClipsToMaxPercentAdjustment(t *testing.T) {
	l := New(1000, 1)

	l.GetCycleMillis(200, 100)
	require.Equal(t, int32(1), l.offsetMillis, "100ms elapsed at 1%% must clip the correction to 1ms")
}

func TestGetCycleMillisTracksLastSystemMillis(t *testing.T) {
	l := New(1000, 100)
	l.GetCycleMillis(500, 500)
	require.Equal(t, uint32(500), l.lastSystemMillis)
}
