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

// Package enginetest holds hand-written fakes for ptp/engine's Clock and
// Socket seams, standing in for generated mocks (go:generate tooling isn't
// part of this build).
package enginetest

import (
	"github.com/leifclaesson/ptpslave/ptp/engine"
)

// FakeClock is a Clock whose value the test sets directly.
type FakeClock struct {
	Now uint32
}

// MillisNow returns the test-controlled current time.
func (c *FakeClock) MillisNow() uint32 { return c.Now }

// Advance moves the fake clock forward by ms milliseconds.
func (c *FakeClock) Advance(ms uint32) { c.Now += ms }

// FakeSocket is a Socket backed by a queue of pre-built datagrams.
type FakeSocket struct {
	Queue  [][]byte
	Closed bool
}

// Enqueue appends a datagram to be returned by a future ReadPacket call.
func (s *FakeSocket) Enqueue(b []byte) {
	s.Queue = append(s.Queue, b)
}

// ReadPacket returns the next queued datagram, or engine.ErrWouldBlock if
// the queue is empty.
func (s *FakeSocket) ReadPacket(buf []byte) (int, error) {
	if len(s.Queue) == 0 {
		return 0, engine.ErrWouldBlock
	}
	next := s.Queue[0]
	s.Queue = s.Queue[1:]
	n := copy(buf, next)
	return n, nil
}

// Close marks the socket closed. Safe to call more than once.
func (s *FakeSocket) Close() error {
	s.Closed = true
	return nil
}
