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

package stats

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/shirou/gopsutil/process"
)

// SysStats samples this process's resource usage via gopsutil.
type SysStats struct {
	proc *process.Process
}

// NewSysStats returns a SysStats bound to the current process.
func NewSysStats() (*SysStats, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SysStats{proc: proc}, nil
}

// Collect takes one sample and records it into counters.
func (s *SysStats) Collect(counters *Counters) {
	numFDs, err := s.proc.NumFDs()
	if err != nil {
		log.Debugf("failed to get fd count: %v", err)
	}
	cpuPct, err := s.proc.Percent(0)
	if err != nil {
		log.Debugf("failed to get cpu percent: %v", err)
	}
	mem, err := s.proc.MemoryInfo()
	var vmSize, rss uint64
	if err != nil {
		log.Debugf("failed to get memory info: %v", err)
	} else {
		vmSize, rss = mem.VMS, mem.RSS
	}
	counters.SetSysStats(numFDs, cpuPct, vmSize, rss)
}

// CollectForever samples once immediately, then once per interval,
// until ctx is cancelled.
func (s *SysStats) CollectForever(ctx context.Context, counters *Counters, interval time.Duration) {
	s.Collect(counters)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Collect(counters)
		}
	}
}
