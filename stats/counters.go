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

// Package stats holds ptpslaved's exported counters: the engine-state
// mirror the status server reports, the receive-path packet counters,
// system resource usage, and the Prometheus exposition of all of it.
package stats

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// Counters is ptpslaved's full counter set. All fields are accessed
// through atomic operations so the engine-loop goroutine (the only
// writer of most of them) never needs to coordinate with the reader
// goroutines serving /status, /counters and /metrics.
type Counters struct {
	lockStatus int64
	everLocked int64
	lastDiffMs int64
	rawPPS     int64
	epochValid int64
	rxAnnounce int64
	rxSync     int64

	rxDroppedWrongDomain int64
	rxDroppedMalformed   int64

	sysNumFDs     int64
	sysCPUPercent int64
	sysVMSize     int64
	sysRSS        int64
}

// SetLockStatus atomically records the engine's current lock state.
func (c *Counters) SetLockStatus(locked bool) { atomic.StoreInt64(&c.lockStatus, boolToInt64(locked)) }

// SetEverLocked atomically records whether the engine has ever locked.
func (c *Counters) SetEverLocked(ever bool) { atomic.StoreInt64(&c.everLocked, boolToInt64(ever)) }

// SetLastDiffMs atomically records the most recent peak-diff sample.
func (c *Counters) SetLastDiffMs(ms int16) { atomic.StoreInt64(&c.lastDiffMs, int64(ms)) }

// SetRawPPS atomically records the previous second's packet count.
func (c *Counters) SetRawPPS(pps uint16) { atomic.StoreInt64(&c.rawPPS, int64(pps)) }

// SetEpochValid atomically records whether the epoch millisecond
// clock currently carries a plausible value.
func (c *Counters) SetEpochValid(valid bool) { atomic.StoreInt64(&c.epochValid, boolToInt64(valid)) }

// IncRXAnnounce atomically adds 1 to the accepted-Announce counter. Tests
// exercise the counters package standalone with this; cmd/ptpslaved mirrors
// the engine's own cumulative counts with SetRXCounts instead.
func (c *Counters) IncRXAnnounce() { atomic.AddInt64(&c.rxAnnounce, 1) }

// IncRXSync atomically adds 1 to the accepted-Sync/FollowUp counter.
func (c *Counters) IncRXSync() { atomic.AddInt64(&c.rxSync, 1) }

// IncRXDroppedWrongDomain atomically adds 1 to the wrong-domain drop counter.
func (c *Counters) IncRXDroppedWrongDomain() { atomic.AddInt64(&c.rxDroppedWrongDomain, 1) }

// IncRXDroppedMalformed atomically adds 1 to the malformed-packet drop counter.
func (c *Counters) IncRXDroppedMalformed() { atomic.AddInt64(&c.rxDroppedMalformed, 1) }

// SetRXCounts atomically overwrites the four receive-path counters with
// the engine's own cumulative totals, which it keeps more cheaply than
// this package could by re-deriving them from Inc calls on every packet.
func (c *Counters) SetRXCounts(announce, sync, droppedWrongDomain, droppedMalformed uint32) {
	atomic.StoreInt64(&c.rxAnnounce, int64(announce))
	atomic.StoreInt64(&c.rxSync, int64(sync))
	atomic.StoreInt64(&c.rxDroppedWrongDomain, int64(droppedWrongDomain))
	atomic.StoreInt64(&c.rxDroppedMalformed, int64(droppedMalformed))
}

// SetSysStats atomically records the latest process resource sample.
func (c *Counters) SetSysStats(numFDs int32, cpuPercent float64, vmSize, rss uint64) {
	atomic.StoreInt64(&c.sysNumFDs, int64(numFDs))
	atomic.StoreInt64(&c.sysCPUPercent, int64(cpuPercent*100))
	atomic.StoreInt64(&c.sysVMSize, int64(vmSize))
	atomic.StoreInt64(&c.sysRSS, int64(rss))
}

// GetCounters returns a point-in-time snapshot of every counter,
// keyed the way spec.md's ambient data model names them.
func (c *Counters) GetCounters() map[string]int64 {
	return map[string]int64{
		"ptpslave.lock_status":             atomic.LoadInt64(&c.lockStatus),
		"ptpslave.ever_locked":             atomic.LoadInt64(&c.everLocked),
		"ptpslave.last_diff_ms":            atomic.LoadInt64(&c.lastDiffMs),
		"ptpslave.raw_pps":                 atomic.LoadInt64(&c.rawPPS),
		"ptpslave.epoch_valid":             atomic.LoadInt64(&c.epochValid),
		"ptpslave.rx.announce":             atomic.LoadInt64(&c.rxAnnounce),
		"ptpslave.rx.sync":                 atomic.LoadInt64(&c.rxSync),
		"ptpslave.rx.dropped_wrong_domain": atomic.LoadInt64(&c.rxDroppedWrongDomain),
		"ptpslave.rx.dropped_malformed":    atomic.LoadInt64(&c.rxDroppedMalformed),
		"ptpslave.sys.num_fds":             atomic.LoadInt64(&c.sysNumFDs),
		"ptpslave.sys.cpu_percent":         atomic.LoadInt64(&c.sysCPUPercent),
		"ptpslave.sys.vmsize":              atomic.LoadInt64(&c.sysVMSize),
		"ptpslave.sys.rss":                 atomic.LoadInt64(&c.sysRSS),
	}
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// NewRequestID returns a short, sortable correlation id for tagging
// one status-server request (statusserver returns it in the X-Request-Id
// response header).
func NewRequestID() string {
	return xid.New().String()
}
