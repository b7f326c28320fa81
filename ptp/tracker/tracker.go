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

// Package tracker implements the per-source state machine that accumulates
// announce and sync arrivals for one PTP source, reports a soft liveness
// decision, and holds the source's last announce record for BMCA
// comparison. An engine runs two of these: one for the current master and
// one for the best candidate seen so far.
package tracker

import (
	"github.com/leifclaesson/ptpslave/ptp/protocol"
)

const (
	maxAnnounceCount uint8 = 5
	maxSyncCount     uint8 = 10
)

// Tracker is the per-source state described by spec's TrackerState.
type Tracker struct {
	id           protocol.PortId
	lastAnnounce protocol.AnnounceFields

	logSyncInterval     protocol.LogInterval
	logAnnounceInterval protocol.LogInterval

	announceCount uint8
	syncCount     uint8
	syncCount2    uint8

	maintCounterSync     uint8
	maintCounterAnnounce uint8

	healthy bool
	twoStep bool
	isMaster bool
}

// New returns a Tracker in its reset state. isMaster marks whether this
// slot is the engine's "current master" slot, for callers that keep the
// two slots in a fixed array and want it reflected in debug output; it is
// never touched by Take, Reset or any other operation here.
func New(isMaster bool) *Tracker {
	t := &Tracker{isMaster: isMaster}
	t.Reset()
	return t
}

// ID returns the source's port identity.
func (t *Tracker) ID() protocol.PortId { return t.id }

// LastAnnounce returns the last-received announce fields, or the
// WorstAnnounceFields sentinel if none has ever been received.
func (t *Tracker) LastAnnounce() protocol.AnnounceFields { return t.lastAnnounce }

// LogSyncInterval returns the last advertised sync logMessageInterval.
func (t *Tracker) LogSyncInterval() protocol.LogInterval { return t.logSyncInterval }

// LogAnnounceInterval returns the last advertised announce logMessageInterval.
func (t *Tracker) LogAnnounceInterval() protocol.LogInterval { return t.logAnnounceInterval }

// TwoStep reports whether the source has been observed to use two-step sync.
func (t *Tracker) TwoStep() bool { return t.twoStep }

// IsMaster reports whether this slot is the engine's master slot.
func (t *Tracker) IsMaster() bool { return t.isMaster }

// HasValidSource reports whether this tracker has ever seen a valid
// announce (logAnnounceInterval != sentinel).
func (t *Tracker) HasValidSource() bool {
	return t.logAnnounceInterval != protocol.NoValidSource
}

// Healthy reports the tracker's liveness decision: it requires a valid
// source and the counter thresholds in checkHealth. Once healthy latches
// true, it is only cleared by checkHealth observing syncCount==0 or (two-
// step and syncCount2==0) — announceCount alone cannot clear it.
func (t *Tracker) Healthy() bool {
	return t.healthy && t.HasValidSource()
}

// Start resets the tracker, adopts the announce's source port identity,
// then feeds the announce. Used to begin tracking a brand new source.
func (t *Tracker) Start(id protocol.PortId, fields protocol.AnnounceFields, logInterval protocol.LogInterval) {
	t.Reset()
	t.id = id
	t.FeedAnnounce(fields, logInterval)
}

// FeedAnnounce records a newly received announce and recomputes health.
func (t *Tracker) FeedAnnounce(fields protocol.AnnounceFields, logInterval protocol.LogInterval) {
	t.logAnnounceInterval = logInterval
	t.lastAnnounce = fields
	if t.announceCount < maxAnnounceCount {
		t.announceCount++
	}
	t.checkHealth()
}

// FeedSync records a newly received sync (port 319) or follow-up (port
// 320) and recomputes health. twoStepFlag is only meaningful for port 319
// and reflects flag bit 1 of the header's first flag octet.
func (t *Tracker) FeedSync(port int, logInterval protocol.LogInterval, twoStepFlag bool) {
	t.logSyncInterval = logInterval
	switch port {
	case protocol.PortEvent:
		t.twoStep = twoStepFlag
		if t.syncCount < maxSyncCount {
			t.syncCount++
		}
	case protocol.PortGeneral:
		if t.syncCount2 < maxSyncCount {
			t.syncCount2++
		}
	}
	t.checkHealth()
}

// Take replaces this tracker's fields with other's (except the isMaster
// slot marker), then resets other. Used to promote a candidate to master.
func (t *Tracker) Take(other *Tracker) {
	t.id = other.id
	t.lastAnnounce = other.lastAnnounce
	t.logSyncInterval = other.logSyncInterval
	t.logAnnounceInterval = other.logAnnounceInterval
	t.syncCount = other.syncCount
	t.syncCount2 = other.syncCount2
	t.announceCount = other.announceCount
	t.maintCounterSync = other.maintCounterSync
	t.maintCounterAnnounce = other.maintCounterAnnounce
	t.healthy = other.healthy
	t.twoStep = other.twoStep
	other.Reset()
}

// Reset clears all state back to "no valid source", including the
// all-ones announce sentinel that compares worse than any real announce.
func (t *Tracker) Reset() {
	t.id = protocol.PortId{}
	t.lastAnnounce = protocol.WorstAnnounceFields
	t.logSyncInterval = protocol.NoValidSource
	t.logAnnounceInterval = protocol.NoValidSource
	t.announceCount = 0
	t.syncCount = 0
	t.syncCount2 = 0
	t.maintCounterSync = 0
	t.maintCounterAnnounce = 0
	t.healthy = false
	t.twoStep = false
}

// maintenanceInterval implements the decay cadence: it increments counter
// and returns true (resetting counter to 0) once every 1<<(logMsgInterval+2)
// calls, floored at interval 0 (i.e. decay at most once per call).
func maintenanceInterval(counter *uint8, logMsgInterval protocol.LogInterval) bool {
	interval := int(logMsgInterval) + 2
	if interval < 0 {
		interval = 0
	}
	*counter++
	if int(*counter) >= 1<<uint(interval) {
		*counter = 0
		return true
	}
	return false
}

// Housekeeping runs at approximately 1 Hz. It decays announceCount and the
// sync counters toward zero over several intervals of silence and
// recomputes health. No-op if this tracker has no valid source.
func (t *Tracker) Housekeeping() {
	if !t.HasValidSource() {
		return
	}
	if maintenanceInterval(&t.maintCounterAnnounce, t.logAnnounceInterval) {
		if t.announceCount > 0 {
			t.announceCount--
		}
	}
	if maintenanceInterval(&t.maintCounterSync, t.logSyncInterval) {
		if t.syncCount > 0 {
			t.syncCount--
		}
		if t.syncCount2 > 0 {
			t.syncCount2--
		}
	}
	t.checkHealth()
}

// checkHealth is the hysteresis at the heart of Healthy: it can always
// clear bHealthy on loss of sync counters, but can only set it once the
// acquisition thresholds are met. Dropping announceCount alone, with sync
// counters intact, never clears an already-healthy tracker.
func (t *Tracker) checkHealth() {
	if t.syncCount == 0 || (t.twoStep && t.syncCount2 == 0) {
		t.healthy = false
		return
	}
	if t.announceCount > 3 && t.syncCount > 6 && (!t.twoStep || t.syncCount2 > 6) {
		t.healthy = true
	}
}
