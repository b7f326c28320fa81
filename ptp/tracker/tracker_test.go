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

package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leifclaesson/ptpslave/ptp/protocol"
)

func someFields(prio1 uint8) protocol.AnnounceFields {
	return protocol.AnnounceFields{Priority1: prio1, ClockClass: 248, Priority2: 128, GrandmasterIdentity: 1}
}

func TestResetIsEmptyCandidate(t *testing.T) {
	tr := New(false)
	require.False(t, tr.HasValidSource())
	require.False(t, tr.Healthy())
	require.Equal(t, protocol.WorstAnnounceFields, tr.LastAnnounce())
	require.True(t, tr.ID().Zero())
}

func TestStartAdoptsAnnounce(t *testing.T) {
	tr := New(false)
	id := protocol.PortId{ClockIdentity: 7, PortNumber: 1}
	tr.Start(id, someFields(128), 0)
	require.True(t, tr.ID().Equal(id))
	require.True(t, tr.HasValidSource())
	require.Equal(t, someFields(128), tr.LastAnnounce())
}

func TestAnnounceCountSaturatesAtFive(t *testing.T) {
	tr := New(false)
	tr.Start(protocol.PortId{ClockIdentity: 1}, someFields(128), 0)
	for i := 0; i < 10; i++ {
		tr.FeedAnnounce(someFields(128), 0)
	}
	require.Equal(t, maxAnnounceCount, tr.announceCount)
}

func TestSyncCountsSaturateAtTen(t *testing.T) {
	tr := New(false)
	tr.Start(protocol.PortId{ClockIdentity: 1}, someFields(128), 0)
	for i := 0; i < 20; i++ {
		tr.FeedSync(protocol.PortEvent, 0, false)
		tr.FeedSync(protocol.PortGeneral, 0, false)
	}
	require.Equal(t, maxSyncCount, tr.syncCount)
	require.Equal(t, maxSyncCount, tr.syncCount2)
}

func becomeHealthyOneStep(tr *Tracker) {
	tr.Start(protocol.PortId{ClockIdentity: 1}, someFields(128), 0)
	for i := 0; i < 4; i++ {
		tr.FeedAnnounce(someFields(128), 0)
	}
	for i := 0; i < 7; i++ {
		tr.FeedSync(protocol.PortEvent, 0, false)
	}
}

func TestHealthyOneStep(t *testing.T) {
	tr := New(false)
	becomeHealthyOneStep(tr)
	require.True(t, tr.Healthy())
}

func TestHealthyTwoStepRequiresSyncCount2(t *testing.T) {
	tr := New(false)
	tr.Start(protocol.PortId{ClockIdentity: 1}, someFields(128), 0)
	for i := 0; i < 4; i++ {
		tr.FeedAnnounce(someFields(128), 0)
	}
	for i := 0; i < 7; i++ {
		tr.FeedSync(protocol.PortEvent, 0, true)
	}
	require.False(t, tr.Healthy(), "two-step source needs syncCount2>6 too")
	for i := 0; i < 7; i++ {
		tr.FeedSync(protocol.PortGeneral, 0, true)
	}
	require.True(t, tr.Healthy())
}

func TestHealthHysteresisIgnoresAnnounceDecay(t *testing.T) {
	tr := New(false)
	becomeHealthyOneStep(tr)
	require.True(t, tr.Healthy())

	tr.announceCount = 0
	tr.checkHealth()
	require.True(t, tr.Healthy(), "losing announceCount alone must not clear an already-healthy tracker")
}

func TestHealthClearsOnSyncCountZero(t *testing.T) {
	tr := New(false)
	becomeHealthyOneStep(tr)
	require.True(t, tr.Healthy())

	tr.syncCount = 0
	tr.checkHealth()
	require.False(t, tr.Healthy())
}

func TestTakePromotesAndResetsSource(t *testing.T) {
	master := New(true)
	candidate := New(false)
	becomeHealthyOneStep(candidate)

	master.Take(candidate)
	require.True(t, master.Healthy())
	require.True(t, master.IsMaster())
	require.False(t, candidate.HasValidSource(), "Take must reset the donor")
}

func TestHousekeepingDecaysCountersToZero(t *testing.T) {
	tr := New(false)
	becomeHealthyOneStep(tr)
	require.True(t, tr.Healthy())

	// logAnnounceInterval/logSyncInterval are 0, so maintenanceInterval
	// decays every 1<<2 = 4 ticks.
	for i := 0; i < 4*8; i++ {
		tr.Housekeeping()
	}
	require.False(t, tr.Healthy())
	require.Equal(t, uint8(0), tr.syncCount)
}

func TestHousekeepingNoopWithoutValidSource(t *testing.T) {
	tr := New(false)
	tr.Housekeeping()
	require.False(t, tr.HasValidSource())
}
