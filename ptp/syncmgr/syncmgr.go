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

// Package syncmgr implements the disciplined clock: a wrapping u32 offset
// and a u64 epoch offset kept such that platform-monotonic-millis+offset
// tracks a PTP master to roughly a millisecond despite bursty, jittery
// multicast delivery (WiFi DTIM buffering can hold a burst of several sync
// messages and deliver them back-to-back). This is the heaviest-weight
// component of the client: two-step correlation, gross-outlier rejection,
// a diff history with peak extraction, a two-phase convergence (one big
// initial jump, then one-millisecond-per-interval nudges), lock/unlock
// hysteresis, and backward-jump suppression on reads.
package syncmgr

import (
	"github.com/leifclaesson/ptpslave/ptp/protocol"
)

// Clock supplies the wrapping platform-monotonic millisecond counter this
// package disciplines against. Implementations must tolerate ~49.7 days
// of wraparound; all comparisons here are done as signed 32-bit diffs.
type Clock interface {
	MillisNow() uint32
}

const (
	diffHistorySize = 64
	sentinelDiff    = int16(-32768)

	// grossRejectMs is the |diff| threshold beyond which a sample is
	// rejected outright rather than folded into the jitter filter.
	grossRejectMs = 200

	// defaultGrossRejectBudget is how many consecutive gross rejects are
	// tolerated before the sync manager gives up and resets, for sources
	// advertising a logMessageInterval of -2 or slower.
	defaultGrossRejectBudget = 16

	// initialDiffFindingMs is how long the initial diff-finding phase
	// runs before committing one big jump to the least-delayed sample
	// seen so far.
	initialDiffFindingMs = 1500

	// backwardJumpSuppressMs bounds how large a backward step GetMillis
	// will silently swallow by freezing at the last returned value.
	// Larger backward jumps are treated as a legitimate re-sync and pass
	// through untouched.
	backwardJumpSuppressMs = 1000

	// lockThresholdMs / unlockThresholdMs give lock status hysteresis:
	// acquire lock under 10ms of peak diff, lose it only past 20ms.
	lockThresholdMs   = 10
	unlockThresholdMs = 20

	// lossOfSyncMs is how long without an accepted packet before
	// Housekeeping clears an existing lock.
	lossOfSyncMs = 5000

	// epochFloorMs64 is the sanity floor below which a first-packet
	// epoch millisecond value cannot be a real wall clock reading.
	epochFloorMs64 = 1_633_942_188_395
)

// Manager is the disciplined offset state machine described above.
type Manager struct {
	clock Clock

	first              bool
	fastInitial        bool
	initialDiffFinding bool
	lockStatus         bool
	epochValid         bool
	epochValidInternal bool
	twoStep            bool

	offset            uint32
	offset64          uint64
	confidentOffset   uint32
	confidentOffset64 uint64

	diffHistory    [diffHistorySize]int16
	diffHistoryIdx int

	rejectedPackets int16
	acceptedPackets uint16

	adjustmentTimestamp     uint32
	initialDiffFindingStamp uint32
	lastAcceptedPacket      uint32
	twoStepReceiveTimestamp uint32
	lastMillisReturn        uint32

	twoStepSeqID uint16
	lastDiffMs   int16
}

// New returns a Manager in its reset state, disciplining against clock.
func New(clock Clock) *Manager {
	m := &Manager{clock: clock}
	m.Reset()
	return m
}

// Reset puts the manager back into "never synced" state. Offsets are left
// as-is; they are implicitly replaced by the first-packet baseline on the
// next FeedSync.
func (m *Manager) Reset() {
	m.first = true
	m.fastInitial = true
	m.adjustmentTimestamp = m.clock.MillisNow()
	for i := range m.diffHistory {
		m.diffHistory[i] = sentinelDiff
	}
	m.diffHistoryIdx = 0
	m.rejectedPackets = 0
	m.acceptedPackets = 0
	m.lockStatus = false
}

func diff32(a, b uint32) int32 {
	return int32(a - b)
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

// FeedSync processes one sync (port 319) or follow-up (port 320) message
// from the current master. ts is the message's own timestamp field
// (Sync.OriginTimestamp or FollowUp.PreciseOriginTimestamp — on the wire
// they occupy the same position, so callers pass whichever applies).
// twoStepFlag is flag bit 1 of the header's first flag octet and is only
// meaningful when port is protocol.PortEvent.
func (m *Manager) FeedSync(port int, seqID uint16, logInterval protocol.LogInterval, twoStepFlag bool, ts protocol.Timestamp) {
	now := m.clock.MillisNow()

	if port == protocol.PortEvent {
		m.twoStep = twoStepFlag
	}

	var twoStepOffset uint32
	if m.twoStep {
		if port == protocol.PortEvent {
			m.twoStepSeqID = seqID
			m.twoStepReceiveTimestamp = now
			return
		}
		if seqID != m.twoStepSeqID {
			return
		}
		twoStepOffset = uint32(diff32(now, m.twoStepReceiveTimestamp))
	}

	ptpMillis32 := ts.Seconds.Low32()*1000 + ts.Nanoseconds/1_000_000 + twoStepOffset
	ptpMillis64 := (uint64(ts.Seconds.ESB())<<32|uint64(ts.Seconds.Low32()))*1000 + uint64(ts.Nanoseconds)/1_000_000 + uint64(twoStepOffset)

	if m.first {
		m.offset = ptpMillis32 - now
		m.adjustmentTimestamp = now

		m.initialDiffFinding = true
		m.initialDiffFindingStamp = now

		m.epochValidInternal = ptpMillis64 > epochFloorMs64

		// Mirrors a second, independent read of the monotonic clock in
		// the source this is ported from: the baseline for the 64-bit
		// epoch offset is taken a moment after the 32-bit one.
		m.offset64 = ptpMillis64 - uint64(m.clock.MillisNow()+m.offset)
	}

	diff32Wide := diff32(ptpMillis32-m.offset, now)

	if diff32Wide < -grossRejectMs || diff32Wide > grossRejectMs {
		m.rejectedPackets++
		budget := int16(defaultGrossRejectBudget)
		if logInterval < -2 {
			budget = 4 << uint(-logInterval)
		}
		if m.rejectedPackets > budget {
			m.Reset()
		}
		return
	}
	m.rejectedPackets = 0

	m.diffHistory[m.diffHistoryIdx] = int16(diff32Wide)
	m.diffHistoryIdx = (m.diffHistoryIdx + 1) % diffHistorySize

	numPackets := 8
	if logInterval <= -2 {
		numPackets = 4 << uint(-logInterval)
	}
	if numPackets > diffHistorySize {
		numPackets = diffHistorySize
	}

	idx := (m.diffHistoryIdx + diffHistorySize - 1) % diffHistorySize
	peakDiff := sentinelDiff
	for i := 0; i < numPackets; i++ {
		if peakDiff < m.diffHistory[idx] {
			peakDiff = m.diffHistory[idx]
		}
		idx--
		if idx < 0 {
			idx = diffHistorySize - 1
		}
	}

	interval := 5000
	m.lastDiffMs = peakDiff

	wasDiffFinding := m.initialDiffFinding

	if !m.first && m.initialDiffFinding && diff32(now, m.initialDiffFindingStamp) > initialDiffFindingMs {
		m.initialDiffFinding = false
		m.offset += uint32(peakDiff)
		for i := range m.diffHistory {
			if m.diffHistory[i] != sentinelDiff {
				m.diffHistory[i] -= peakDiff
			}
		}
		peakDiff = 0
	}

	if !wasDiffFinding {
		if abs16(peakDiff) >= 3 {
			interval = 2000
		}
		if abs16(peakDiff) >= 10 {
			interval = 1000
		}
		if m.fastInitial {
			if abs16(peakDiff) >= 20 {
				interval = 250
			}
			if abs16(peakDiff) >= 40 {
				interval = 125
			}
		}

		if m.acceptedPackets >= 5 {
			if m.fastInitial && abs16(peakDiff) < lockThresholdMs {
				m.fastInitial = false
			}
			if !m.lockStatus {
				if abs16(peakDiff) < lockThresholdMs {
					m.lockStatus = true
				}
			} else if abs16(peakDiff) > unlockThresholdMs {
				m.lockStatus = false
			}
		}

		if diff32(now, m.adjustmentTimestamp) >= int32(interval) {
			m.adjustmentTimestamp = now
			if peakDiff > 1 {
				m.offset++
			} else if peakDiff < -1 {
				m.offset--
			}
		}

		m.confidentOffset = m.offset
		m.confidentOffset64 = m.offset64
		m.epochValid = m.epochValidInternal
	}

	m.lastAcceptedPacket = now
	if m.acceptedPackets < 0xFFFF {
		m.acceptedPackets++
	}
	m.first = false
}

// GetMillis returns the disciplined millisecond counter: platform millis
// plus the confident offset, wrapping u32. Backward jumps of less than
// backwardJumpSuppressMs are suppressed by freezing at the last returned
// value; larger jumps (either direction) pass through as a true re-sync.
func (m *Manager) GetMillis() uint32 {
	now := m.clock.MillisNow()
	ret := now + m.confidentOffset

	d := diff32(ret, m.lastMillisReturn)
	if d < 0 && d > -backwardJumpSuppressMs {
		return m.lastMillisReturn
	}

	m.lastMillisReturn = ret
	return ret
}

// GetEpochMillis64 returns wall-clock milliseconds since the Unix epoch.
// Unlike GetMillis, there is no backward-jump suppression.
func (m *Manager) GetEpochMillis64() uint64 {
	return uint64(m.clock.MillisNow()) + uint64(m.confidentOffset) + m.confidentOffset64
}

// GetLockStatus reports whether the disciplined clock is currently locked.
func (m *Manager) GetLockStatus() bool { return m.lockStatus }

// GetEpochValid reports whether GetEpochMillis64 carries a plausible wall
// clock value (sanity-checked against a fixed floor on first sync).
func (m *Manager) GetEpochValid() bool { return m.epochValid }

// GetLastDiffMs returns the peak-diff sample from the most recently
// accepted sync/follow-up.
func (m *Manager) GetLastDiffMs() int16 { return m.lastDiffMs }

// Housekeeping runs at approximately 1 Hz: it clears lock status after
// lossOfSyncMs without an accepted packet. Offsets and epoch validity are
// deliberately retained so readers can still get a best-effort time.
func (m *Manager) Housekeeping() {
	if m.lockStatus && diff32(m.clock.MillisNow(), m.lastAcceptedPacket) > lossOfSyncMs {
		m.lockStatus = false
	}
}
