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
	"testing"

	"github.com/stretchr/testify/require"
)

func testAnnounce(seq uint16, prio1 uint8, class ClockClass, gmID ClockIdentity) *Announce {
	return &Announce{
		Header: Header{
			SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageAnnounce, 0),
			Version:            Version,
			SequenceID:         seq,
			SourcePortIdentity: PortId{ClockIdentity: gmID, PortNumber: 1},
		},
		AnnounceBody: AnnounceBody{
			GrandmasterPriority1: prio1,
			GrandmasterClockQuality: ClockQuality{
				ClockClass:    class,
				ClockAccuracy: 0x21,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  gmID,
		},
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	want := testAnnounce(42, 128, 248, 0x001122FFFE334455)
	b, err := want.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, AnnounceSize)

	got := &Announce{}
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, want.SequenceID, got.SequenceID)
	require.Equal(t, want.SourcePortIdentity, got.SourcePortIdentity)
	require.Equal(t, want.Fields(), got.Fields())
}

func TestDecodePacketDispatch(t *testing.T) {
	announce := testAnnounce(1, 128, 248, 1)
	ab, err := announce.MarshalBinary()
	require.NoError(t, err)

	p, err := DecodePacket(ab)
	require.NoError(t, err)
	require.Equal(t, MessageAnnounce, p.MessageType())
	require.IsType(t, &Announce{}, p)

	sync := &Sync{Header: Header{SdoIDAndMsgType: NewSdoIDAndMsgType(MessageSync, 0)}}
	sb, err := sync.MarshalBinary()
	require.NoError(t, err)
	p, err = DecodePacket(sb)
	require.NoError(t, err)
	require.Equal(t, MessageSync, p.MessageType())
	require.IsType(t, &Sync{}, p)

	fu := &FollowUp{Header: Header{SdoIDAndMsgType: NewSdoIDAndMsgType(MessageFollowUp, 0)}}
	fb, err := fu.MarshalBinary()
	require.NoError(t, err)
	p, err = DecodePacket(fb)
	require.NoError(t, err)
	require.Equal(t, MessageFollowUp, p.MessageType())
	require.IsType(t, &FollowUp{}, p)
}

func TestDecodePacketShort(t *testing.T) {
	_, err := DecodePacket(make([]byte, 10))
	require.Error(t, err)
}

func TestAnnounceFieldsCompareOrder(t *testing.T) {
	base := AnnounceFields{Priority1: 128, ClockClass: 248, ClockAccuracy: 0x21, OffsetScaledLogVariance: 100, Priority2: 128, GrandmasterIdentity: 5}

	t.Run("lower priority1 wins", func(t *testing.T) {
		better := base
		better.Priority1 = 127
		require.True(t, better.Compare(base) < 0)
		require.True(t, base.Compare(better) > 0)
	})
	t.Run("lower clock class wins when priority1 ties", func(t *testing.T) {
		better := base
		better.ClockClass = 6
		require.True(t, better.Compare(base) < 0)
	})
	t.Run("grandmaster identity is the final tiebreak", func(t *testing.T) {
		other := base
		other.GrandmasterIdentity = 4
		require.True(t, other.Compare(base) < 0)
		require.True(t, base.Compare(other) > 0)
	})
	t.Run("identical fields compare equal", func(t *testing.T) {
		require.Equal(t, 0, base.Compare(base))
	})
}

func TestAnnounceFieldsTotalOrder(t *testing.T) {
	a := AnnounceFields{Priority1: 100, ClockClass: 6, GrandmasterIdentity: 1}
	b := AnnounceFields{Priority1: 128, ClockClass: 6, GrandmasterIdentity: 2}
	c := AnnounceFields{Priority1: 200, ClockClass: 6, GrandmasterIdentity: 3}

	require.True(t, a.Compare(b) < 0)
	require.True(t, b.Compare(c) < 0)
	require.True(t, a.Compare(c) < 0)
}

func TestWorstAnnounceFieldsDominance(t *testing.T) {
	real := AnnounceFields{Priority1: 255, ClockClass: 255, ClockAccuracy: 255, OffsetScaledLogVariance: 0xFFFE, Priority2: 255, GrandmasterIdentity: 0xFFFFFFFFFFFFFFFE}
	require.True(t, real.Better(WorstAnnounceFields))
	require.False(t, WorstAnnounceFields.Better(real))
}

func TestPortIdCompareAndEqual(t *testing.T) {
	a := PortId{ClockIdentity: 1, PortNumber: 1}
	b := PortId{ClockIdentity: 1, PortNumber: 2}
	c := PortId{ClockIdentity: 2, PortNumber: 1}

	require.True(t, a.Compare(b) < 0)
	require.True(t, b.Compare(c) < 0)
	require.True(t, a.Equal(a))
	require.False(t, a.Equal(b))
	require.True(t, PortId{}.Zero())
	require.False(t, a.Zero())
}
