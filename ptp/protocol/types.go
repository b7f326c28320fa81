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

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MessageType is type for Message Types relevant to a slave-only client.
type MessageType uint8

// As per Table 36 Values of messageType field. Only the three types this
// client ever dispatches are named; everything else decodes to MessageOther.
const (
	MessageSync     MessageType = 0x0
	MessageFollowUp MessageType = 0x8
	MessageAnnounce MessageType = 0xB
	MessageOther    MessageType = 0xFF
)

func (m MessageType) String() string {
	switch m {
	case MessageSync:
		return "SYNC"
	case MessageFollowUp:
		return "FOLLOW_UP"
	case MessageAnnounce:
		return "ANNOUNCE"
	default:
		return "OTHER"
	}
}

// SdoIDAndMsgType is a uint8 where the first 4 bits contain the SDO ID
// and the last 4 bits the MessageType.
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType. Message types this
// client does not dispatch collapse to MessageOther.
func (m SdoIDAndMsgType) MsgType() MessageType {
	switch t := MessageType(m & 0xf); t {
	case MessageSync, MessageFollowUp, MessageAnnounce:
		return t
	default:
		return MessageOther
	}
}

// ClockIdentity identifies unique entities within a PTP network, e.g. a
// grandmaster clock. Numeric ordering of ClockIdentity is equivalent to
// lexicographic ordering of its big-endian byte representation.
type ClockIdentity uint64

func (c ClockIdentity) String() string {
	ptr := make([]byte, 8)
	binary.BigEndian.PutUint64(ptr, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		ptr[0], ptr[1], ptr[2], ptr[3],
		ptr[4], ptr[5], ptr[6], ptr[7],
	)
}

// PortId is the 10-octet identity of a PTP port: an 8-octet clock identity
// plus a 2-octet port number. Zero value is the "no valid source" identity.
type PortId struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

func (p PortId) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare returns -1, 0 or 1 comparing p and q lexicographically by raw
// bytes: ClockIdentity first, PortNumber as tiebreak.
func (p PortId) Compare(q PortId) int {
	switch {
	case p.ClockIdentity < q.ClockIdentity:
		return -1
	case p.ClockIdentity > q.ClockIdentity:
		return 1
	case p.PortNumber < q.PortNumber:
		return -1
	case p.PortNumber > q.PortNumber:
		return 1
	default:
		return 0
	}
}

// Equal reports whether p and q identify the same port.
func (p PortId) Equal(q PortId) bool {
	return p.Compare(q) == 0
}

// Zero reports whether p is the zero PortId (no valid source).
func (p PortId) Zero() bool {
	return p.ClockIdentity == 0 && p.PortNumber == 0
}

// PTPSeconds is a 48-bit seconds field, the wire encoding of seconds
// since the epoch used in PTP timestamps.
type PTPSeconds [6]uint8

// Seconds returns the 48-bit seconds value as uint64.
func (s PTPSeconds) Seconds() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 | uint64(s[2])<<24 |
		uint64(s[1])<<32 | uint64(s[0])<<40
}

// Low32 returns the low 32 bits of the 48-bit seconds value.
func (s PTPSeconds) Low32() uint32 {
	return uint32(s[5]) | uint32(s[4])<<8 | uint32(s[3])<<16 | uint32(s[2])<<24
}

// ESB returns the "extra significant bits" — the upper 16 bits of the
// 48-bit seconds value.
func (s PTPSeconds) ESB() uint16 {
	return uint16(s[1]) | uint16(s[0])<<8
}

/*
Timestamp represents a positive time with respect to the epoch. Seconds
is the 48-bit integer portion in seconds; Nanoseconds is the fractional
portion, always less than 10**9.
*/
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

// NewPTPSeconds builds a PTPSeconds from its ESB (upper 16 bits) and low
//32 bits, for tests that synthesize PTP timestamps.
func NewPTPSeconds(esb uint16, low32 uint32) PTPSeconds {
	return PTPSeconds{
		byte(esb >> 8), byte(esb),
		byte(low32 >> 24), byte(low32 >> 16), byte(low32 >> 8), byte(low32),
	}
}

// Time turns Timestamp into a Go time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds))
}

// ClockClass represents a PTP clock class (Table 5).
type ClockClass uint8

// ClockAccuracy represents a PTP clock accuracy (Table 5).
type ClockAccuracy uint8

// ClockQuality represents the advertised quality of a grandmaster clock.
type ClockQuality struct {
	ClockClass              ClockClass
	ClockAccuracy           ClockAccuracy
	OffsetScaledLogVariance uint16
}

// TimeSource indicates the immediate source of time used by the
// grandmaster PTP instance (Table 6).
type TimeSource uint8

// LogInterval is the logarithm, to base 2, of a period expressed in
// seconds. 0x7F is the PTP sentinel for "no valid source".
type LogInterval int8

// NoValidSource is the sentinel LogInterval value meaning the tracker
// that carries it has never seen a valid announce or sync.
const NoValidSource LogInterval = 0x7F
