// message_test.go - NymMessage padding/variant tests.
// Copyright (C) 2017  David Anthony Stainton, Yawning Angel
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package message

import (
	"testing"

	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/stretchr/testify/require"
)

func TestPlainRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewPlain([]byte("hello"))

	perPacket := m.AvailablePlaintextPerPacket(sphinxwire.RegularPacket)
	require.Greater(perPacket, 0)

	padded := m.PadToFullPacketLengths(perPacket)
	require.Equal(0, len(padded)%perPacket)

	got, err := RemovePadding(padded)
	require.NoError(err)
	require.Equal(m.Type, got.Type)
	require.Equal(m.Plain, got.InnerData())
}

func TestRepliableRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewRepliable(&RepliableMessageContent{Data: []byte("reply to me")})

	perPacket := m.AvailablePlaintextPerPacket(sphinxwire.RegularPacket)
	padded := m.PadToFullPacketLengths(perPacket)

	got, err := RemovePadding(padded)
	require.NoError(err)
	require.Equal(constants.MessageTypeRepliable, got.Type)
	require.Equal(m.Repliable.Data, got.InnerData())
}

func TestReplyDataRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewReply(&ReplyMessageContent{Data: []byte("reply payload")})

	perPacket := m.AvailablePlaintextPerPacket(sphinxwire.RegularPacket)
	padded := m.PadToFullPacketLengths(perPacket)

	got, err := RemovePadding(padded)
	require.NoError(err)
	require.False(got.IsReplySurbRequest())
	require.Equal(m.Reply.Data, got.InnerData())
}

func TestSurbRequestRoundTrip(t *testing.T) {
	require := require.New(t)
	recip := addressing.Recipient{Gateway: "gatewayA"}
	recip.ID[0] = 0xAB

	m := NewAdditionalSurbsRequest(recip, 20)
	perPacket := m.AvailablePlaintextPerPacket(sphinxwire.RegularPacket)
	padded := m.PadToFullPacketLengths(perPacket)

	got, err := RemovePadding(padded)
	require.NoError(err)
	require.True(got.IsReplySurbRequest())
	require.Equal(recip.Gateway, got.Reply.SurbRequestRecipient.Gateway)
	require.Equal(recip.ID, got.Reply.SurbRequestRecipient.ID)
}

func TestRemovePaddingRejectsMissingTerminator(t *testing.T) {
	_, err := RemovePadding([]byte{0, 0, 0})
	require.Equal(t, ErrInvalidPadding, err)
}

func TestFromBytesRejectsEmpty(t *testing.T) {
	_, err := FromBytes(nil)
	require.Equal(t, ErrEmptyMessage, err)
}

