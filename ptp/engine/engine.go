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

// Package engine is the slave-only PTPv2 client: it owns the two multicast
// sockets, the current-master and candidate Trackers, and the SyncManager,
// and ties them together with the Best Master Clock Algorithm dispatch and
// periodic housekeeping. The engine is single-threaded-cooperative: Loop
// and Housekeeping must be invoked serially by the host (see cmd/ptpslaved
// for the goroutine that does this). Read accessors are not synchronized:
// they read the same fields Loop writes, so they are safe only when no Loop,
// Maintenance or Quit call runs at the same time.
package engine

import (
	"fmt"

	"github.com/leifclaesson/ptpslave/ptp/protocol"
	"github.com/leifclaesson/ptpslave/ptp/syncmgr"
	"github.com/leifclaesson/ptpslave/ptp/tracker"
)

const maintenanceIntervalMillis = 1000

// Engine is the top-level slave client. Zero value is not usable; build
// one with New.
type Engine struct {
	domain uint8

	clock   Clock
	event   Socket
	general Socket

	master    *tracker.Tracker
	candidate *tracker.Tracker
	sync      *syncmgr.Manager

	lastMaintenance uint32
	ppsCounter      uint16
	lastPpsCount    uint16
	everLocked      bool

	announceCount           uint32
	syncCount               uint32
	droppedWrongDomainCount uint32
	droppedMalformedCount   uint32

	buf [256]byte
}

// New constructs an Engine around externally supplied sockets and clock.
// Sockets are expected to already be open and joined to the PTP multicast
// group; Engine never dials the network itself, so it can run identically
// against enginetest's fakes and against MulticastSocket.
func New(domain uint8, clock Clock, event, general Socket) *Engine {
	e := &Engine{
		domain:  domain,
		clock:   clock,
		event:   event,
		general: general,

		master:    tracker.New(true),
		candidate: tracker.New(false),
	}
	e.sync = syncmgr.New(clock)
	return e
}

// SetDomain changes the PTP domain filter. Safe to call before Begin or
// between Loop calls; it takes effect on the next received packet.
func (e *Engine) SetDomain(domain uint8) {
	e.domain = domain
}

// Begin prepares the engine for its first Loop call. Since sockets are
// constructed and joined by the caller (see ListenMulticast), Begin's only
// remaining job is to put the sync manager into a known-reset state so
// Begin is idempotent after Quit.
func (e *Engine) Begin() bool {
	e.sync.Reset()
	e.lastMaintenance = e.clock.MillisNow()
	return true
}

// Quit closes both sockets and resets all tracking state.
func (e *Engine) Quit() error {
	err1 := e.event.Close()
	err2 := e.general.Close()
	e.master.Reset()
	e.candidate.Reset()
	e.sync.Reset()
	e.everLocked = false
	if err1 != nil {
		return err1
	}
	return err2
}

// Loop drains at most one pending datagram from each of the event and
// general sockets, dispatches it, and runs Maintenance if at least one
// second has elapsed since the last run. A packet whose domain does not
// match the configured filter aborts the rest of this Loop call entirely,
// including the other port — this mirrors an observed behavior of the
// reference implementation rather than a considered design choice.
func (e *Engine) Loop() {
	ports := [2]struct {
		socket Socket
		port   int
	}{
		{e.event, protocol.PortEvent},
		{e.general, protocol.PortGeneral},
	}

	for _, p := range ports {
		n, err := p.socket.ReadPacket(e.buf[:])
		if err != nil {
			continue
		}
		if n < protocol.HeaderSize {
			e.droppedMalformedCount++
			continue
		}

		hdr, err := protocol.DecodeHeader(e.buf[:n])
		if err != nil {
			e.droppedMalformedCount++
			continue
		}

		e.ppsCounter++
		if hdr.DomainNumber != e.domain {
			e.droppedWrongDomainCount++
			return
		}

		e.dispatch(hdr, p.port, n)
	}

	if now := e.clock.MillisNow(); int32(now-e.lastMaintenance) >= maintenanceIntervalMillis {
		e.lastMaintenance = now
		e.Maintenance()
	}
}

func (e *Engine) dispatch(hdr protocol.Header, port int, n int) {
	switch hdr.MessageType() {
	case protocol.MessageAnnounce:
		if port == protocol.PortGeneral && n == protocol.AnnounceSize {
			var ann protocol.Announce
			if err := ann.UnmarshalBinary(e.buf[:n]); err == nil {
				e.dispatchAnnounce(&ann)
			}
		}
	case protocol.MessageSync, protocol.MessageFollowUp:
		if n == protocol.SyncSize {
			e.dispatchSync(hdr, port, n)
		}
	}
}

func (e *Engine) dispatchAnnounce(ann *protocol.Announce) {
	e.announceCount++
	id := ann.SourcePortIdentity
	fields := ann.Fields()
	logInterval := ann.LogMessageInterval

	switch {
	case !e.master.HasValidSource():
		e.master.Start(id, fields, logInterval)
	case id.Equal(e.master.ID()):
		e.master.FeedAnnounce(fields, logInterval)
	case id.Equal(e.candidate.ID()):
		e.candidate.FeedAnnounce(fields, logInterval)
		promote := (e.candidate.Healthy() && e.candidate.LastAnnounce().Better(e.master.LastAnnounce())) ||
			(!e.master.Healthy() && e.candidate.Healthy())
		if promote {
			e.master.Take(e.candidate)
		}
	case fields.Better(e.candidate.LastAnnounce()):
		e.candidate.Start(id, fields, logInterval)
	}
}

func (e *Engine) dispatchSync(hdr protocol.Header, port int, n int) {
	e.syncCount++
	var ts protocol.Timestamp
	switch hdr.MessageType() {
	case protocol.MessageSync:
		var s protocol.Sync
		if err := s.UnmarshalBinary(e.buf[:n]); err != nil {
			return
		}
		ts = s.OriginTimestamp
	case protocol.MessageFollowUp:
		var f protocol.FollowUp
		if err := f.UnmarshalBinary(e.buf[:n]); err != nil {
			return
		}
		ts = f.PreciseOriginTimestamp
	}

	twoStepFlag := hdr.FlagField&protocol.FlagTwoStep != 0
	id := hdr.SourcePortIdentity

	switch {
	case id.Equal(e.master.ID()):
		e.master.FeedSync(port, hdr.LogMessageInterval, twoStepFlag)
		e.sync.FeedSync(port, hdr.SequenceID, hdr.LogMessageInterval, twoStepFlag, ts)
	case id.Equal(e.candidate.ID()):
		e.candidate.FeedSync(port, hdr.LogMessageInterval, twoStepFlag)
	}
}

// Maintenance rotates the packets-per-second counter and runs Housekeeping
// on both trackers and the sync manager. Called automatically by Loop
// roughly once a second; exposed so a host with its own 1Hz tick can drive
// it directly instead.
func (e *Engine) Maintenance() {
	e.lastPpsCount = e.ppsCounter
	e.ppsCounter = 0

	e.master.Housekeeping()
	e.candidate.Housekeeping()
	e.sync.Housekeeping()
}

// GetLockStatus reports whether the disciplined clock is currently locked
// to the current master.
func (e *Engine) GetLockStatus() bool { return e.sync.GetLockStatus() }

// GetEverLocked reports whether the engine has ever locked, latched true
// for the lifetime of the engine (cleared only by Quit).
func (e *Engine) GetEverLocked() bool {
	if e.everLocked {
		return true
	}
	if e.GetLockStatus() {
		e.everLocked = true
		return true
	}
	return false
}

// GetMillis returns the disciplined wrapping millisecond clock.
func (e *Engine) GetMillis() uint32 { return e.sync.GetMillis() }

// GetEpochMillis64 returns the disciplined wall-clock millisecond value.
func (e *Engine) GetEpochMillis64() uint64 { return e.sync.GetEpochMillis64() }

// GetEpochValid reports whether GetEpochMillis64 carries a plausible value.
func (e *Engine) GetEpochValid() bool { return e.sync.GetEpochValid() }

// GetLastDiffMs returns the most recent peak-diff sample.
func (e *Engine) GetLastDiffMs() int16 { return e.sync.GetLastDiffMs() }

// GetRawPPS returns the packet count observed during the previous
// maintenance interval.
func (e *Engine) GetRawPPS() uint16 { return e.lastPpsCount }

// GetAnnounceCount returns the cumulative count of accepted Announce
// messages dispatched since the engine was constructed.
func (e *Engine) GetAnnounceCount() uint32 { return e.announceCount }

// GetSyncCount returns the cumulative count of accepted Sync/Follow_Up
// messages dispatched since the engine was constructed.
func (e *Engine) GetSyncCount() uint32 { return e.syncCount }

// GetDroppedWrongDomainCount returns the cumulative count of packets
// rejected for carrying a domainNumber other than the configured filter.
func (e *Engine) GetDroppedWrongDomainCount() uint32 { return e.droppedWrongDomainCount }

// GetDroppedMalformedCount returns the cumulative count of datagrams too
// short or otherwise unparseable as a PTP header.
func (e *Engine) GetDroppedMalformedCount() uint32 { return e.droppedMalformedCount }

// GetMaster returns the current-master tracker, read-only.
func (e *Engine) GetMaster() *tracker.Tracker { return e.master }

// GetCandidate returns the candidate tracker, read-only.
func (e *Engine) GetCandidate() *tracker.Tracker { return e.candidate }

// GetShortStatusString reports "OK (Nms)" when locked, "not OK" when
// unlocked but the epoch is plausible, or "NOT OK" otherwise.
func (e *Engine) GetShortStatusString() string {
	if e.GetLockStatus() {
		return fmt.Sprintf("OK (%dms)", e.GetLastDiffMs())
	}
	if e.GetEpochValid() {
		return "not OK"
	}
	return "NOT OK"
}
