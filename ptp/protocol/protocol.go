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

// Package protocol implements the subset of the IEEE 1588-2008 PTPv2 wire
// format a slave-only client needs to read: the common header and the
// Announce, Sync and Follow_Up message bodies. All multi-byte scalars are
// big-endian, and the layout is packed exactly as the standard specifies it.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// what version of PTP protocol we implement
const (
	MajorVersion     uint8 = 2
	MinorVersion     uint8 = 1
	Version          uint8 = MinorVersion<<4 | MajorVersion
	MajorVersionMask uint8 = 0x0f
)

// UDP port numbers: the destination port of a PTP event message (Sync,
// Delay_Req) is 319, and of a general message (Announce, Follow_Up) is 320.
const (
	PortEvent   = 319
	PortGeneral = 320
)

// Header is the common PTP message header, Table 35.
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     int64
	MessageTypeSpecific uint32
	SourcePortIdentity  PortId
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// HeaderSize is the fixed, packed size of Header on the wire.
const HeaderSize = 34

// AnnounceSize is the size of a full Announce packet: header plus body,
// with no trailing TLVs (this client neither sends nor expects any).
const AnnounceSize = HeaderSize + 30

// SyncSize is the size of a full Sync or Follow_Up packet.
const SyncSize = HeaderSize + 10

func unmarshalHeader(p *Header, b []byte) {
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = b[1]
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = int64(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	p.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

// MessageType returns the message type carried in the header.
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// DecodeHeader decodes only the common header from b, for callers that
// need the domain number or message type before deciding whether (and as
// what) to decode the full body.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("not enough data to decode header: got %d, need %d", len(b), HeaderSize)
	}
	h := Header{}
	unmarshalHeader(&h, b)
	return h, nil
}

// NewSdoIDAndMsgType builds an SdoIDAndMsgType from a message type and an
// SDO ID, for use by tests that synthesize packets.
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

func headerMarshalBinaryTo(p *Header, b []byte) {
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = p.Version
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(p.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], p.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
}

// flags used in FlagField, first octet, as per Table 37.
const (
	FlagAlternateMaster uint16 = 1 << (8 + 0)
	FlagTwoStep         uint16 = 1 << (8 + 1)
	FlagUnicast         uint16 = 1 << (8 + 2)
)

// AnnounceBody is the Announce message body, Table 43.
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a full Announce packet: header plus body.
type Announce struct {
	Header
	AnnounceBody
}

// UnmarshalBinary decodes an Announce packet from b. b must be at least
// AnnounceSize bytes; exact-length acceptance is an engine-level policy,
// not enforced here.
func (p *Announce) UnmarshalBinary(b []byte) error {
	if len(b) < AnnounceSize {
		return fmt.Errorf("not enough data to decode Announce: got %d, need %d", len(b), AnnounceSize)
	}
	unmarshalHeader(&p.Header, b)
	n := HeaderSize
	copy(p.OriginTimestamp.Seconds[:], b[n:])
	p.OriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[n+6:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.Reserved = b[n+12]
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	return nil
}

// MarshalBinary encodes the Announce packet to bytes, for tests that
// synthesize PTP traffic.
func (p *Announce) MarshalBinary() ([]byte, error) {
	b := make([]byte, AnnounceSize)
	p.MessageLength = AnnounceSize
	headerMarshalBinaryTo(&p.Header, b)
	n := HeaderSize
	copy(b[n:], p.OriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[n+6:], p.OriginTimestamp.Nanoseconds)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = p.Reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	return b, nil
}

// Fields extracts the six BMCA-relevant fields from the decoded body, in
// the exact comparison order spec'd for AnnounceFields.
func (p *AnnounceBody) Fields() AnnounceFields {
	return AnnounceFields{
		Priority1:               p.GrandmasterPriority1,
		ClockClass:              p.GrandmasterClockQuality.ClockClass,
		ClockAccuracy:           p.GrandmasterClockQuality.ClockAccuracy,
		OffsetScaledLogVariance: p.GrandmasterClockQuality.OffsetScaledLogVariance,
		Priority2:               p.GrandmasterPriority2,
		GrandmasterIdentity:     p.GrandmasterIdentity,
	}
}

// AnnounceFields are the fields of an Announce message that participate in
// the BMCA comparison, in their tie-break order.
type AnnounceFields struct {
	Priority1               uint8
	ClockClass              ClockClass
	ClockAccuracy           ClockAccuracy
	OffsetScaledLogVariance uint16
	Priority2               uint8
	GrandmasterIdentity     ClockIdentity
}

// WorstAnnounceFields is the all-ones sentinel used as "no announce yet".
// Every field is its maximum value, so any real announce compares
// strictly better than it (see Compare).
var WorstAnnounceFields = AnnounceFields{
	Priority1:               0xFF,
	ClockClass:              0xFF,
	ClockAccuracy:           0xFF,
	OffsetScaledLogVariance: 0xFFFF,
	Priority2:               0xFF,
	GrandmasterIdentity:     0xFFFFFFFFFFFFFFFF,
}

// Compare returns -1 if a is better than b, 1 if b is better than a, and 0
// if all fields are identical. Comparison walks Priority1, ClockClass,
// ClockAccuracy, OffsetScaledLogVariance, Priority2 in order, each "lower
// is better"; GrandmasterIdentity is the final tie-break, compared as raw
// bytes (numeric ClockIdentity ordering is equivalent to memcmp here,
// since both are big-endian).
func (a AnnounceFields) Compare(b AnnounceFields) int {
	if d := cmpUint8(a.Priority1, b.Priority1); d != 0 {
		return d
	}
	if d := cmpUint8(uint8(a.ClockClass), uint8(b.ClockClass)); d != 0 {
		return d
	}
	if d := cmpUint8(uint8(a.ClockAccuracy), uint8(b.ClockAccuracy)); d != 0 {
		return d
	}
	if d := cmpUint16(a.OffsetScaledLogVariance, b.OffsetScaledLogVariance); d != 0 {
		return d
	}
	if d := cmpUint8(a.Priority2, b.Priority2); d != 0 {
		return d
	}
	switch {
	case a.GrandmasterIdentity < b.GrandmasterIdentity:
		return -1
	case a.GrandmasterIdentity > b.GrandmasterIdentity:
		return 1
	default:
		return 0
	}
}

// Better reports whether a is strictly preferred over b under Compare.
func (a AnnounceFields) Better(b AnnounceFields) bool {
	return a.Compare(b) < 0
}

func cmpUint8(a, b uint8) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint16(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SyncBody is the Sync message body, Table 44 (OriginTimestamp only; this
// client is event-message software-timestamped, there is no separate
// Delay_Req body to share it with).
type SyncBody struct {
	OriginTimestamp Timestamp
}

// Sync is a full Sync packet: header plus body.
type Sync struct {
	Header
	SyncBody
}

// UnmarshalBinary decodes a Sync packet from b.
func (p *Sync) UnmarshalBinary(b []byte) error {
	if len(b) < SyncSize {
		return fmt.Errorf("not enough data to decode Sync: got %d, need %d", len(b), SyncSize)
	}
	unmarshalHeader(&p.Header, b)
	copy(p.OriginTimestamp.Seconds[:], b[HeaderSize:])
	p.OriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[HeaderSize+6:])
	return nil
}

// MarshalBinary encodes the Sync packet to bytes, for tests that
// synthesize PTP traffic.
func (p *Sync) MarshalBinary() ([]byte, error) {
	b := make([]byte, SyncSize)
	p.MessageLength = SyncSize
	headerMarshalBinaryTo(&p.Header, b)
	copy(b[HeaderSize:], p.OriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[HeaderSize+6:], p.OriginTimestamp.Nanoseconds)
	return b, nil
}

// FollowUpBody is the Follow_Up message body, Table 45.
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet: header plus body.
type FollowUp struct {
	Header
	FollowUpBody
}

// UnmarshalBinary decodes a Follow_Up packet from b.
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < SyncSize {
		return fmt.Errorf("not enough data to decode FollowUp: got %d, need %d", len(b), SyncSize)
	}
	unmarshalHeader(&p.Header, b)
	copy(p.PreciseOriginTimestamp.Seconds[:], b[HeaderSize:])
	p.PreciseOriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[HeaderSize+6:])
	return nil
}

// MarshalBinary encodes the FollowUp packet to bytes, for tests that
// synthesize PTP traffic.
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	b := make([]byte, SyncSize)
	p.MessageLength = SyncSize
	headerMarshalBinaryTo(&p.Header, b)
	copy(b[HeaderSize:], p.PreciseOriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[HeaderSize+6:], p.PreciseOriginTimestamp.Nanoseconds)
	return b, nil
}

// Packet is implemented by every decoded message type.
type Packet interface {
	MessageType() MessageType
}

// DecodePacket is the single entry point to decode a received datagram
// into a PTPv2 packet. It dispatches purely on the header's message type;
// callers apply their own port/length/domain acceptance policy afterward.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("not enough data to decode header: got %d, need %d", len(b), HeaderSize)
	}
	head := Header{}
	unmarshalHeader(&head, b)
	switch head.MessageType() {
	case MessageAnnounce:
		p := &Announce{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case MessageSync:
		p := &Sync{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case MessageFollowUp:
		p := &FollowUp{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported message type %s", head.MessageType())
	}
}
