// reassembly_test.go - reassembler tests.
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

package reassembly

import (
	"testing"

	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/message"
	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/stretchr/testify/require"
)

// fakeGateway treats "decryption" as identity: tests hand it plaintext
// already wearing the right variant prefix.
type fakeGateway struct{}

func (fakeGateway) Decrypt(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

type noopReplyKeys struct{}

func (noopReplyKeys) Lookup([32]byte) ([]byte, string, bool) { return nil, "", false }
func (noopReplyKeys) Consume([32]byte)                       {}

type recordingDelivery struct {
	delivered []message.NymMessage
}

func (d *recordingDelivery) Deliver(msg message.NymMessage) {
	d.delivered = append(d.delivered, msg)
}

type recordingAckRemover struct {
	removed []chunking.FragmentIdentifier
}

func (r *recordingAckRemover) Remove(id chunking.FragmentIdentifier) {
	r.removed = append(r.removed, id)
}

type recordingSurbSink struct {
	tag   string
	surbs [][]byte
}

func (s *recordingSurbSink) DepositSurbs(tag string, surbs [][]byte) {
	s.tag = tag
	s.surbs = surbs
}

func withEphemeralPrefix(payload []byte) []byte {
	return append(make([]byte, sphinxwire.EphemeralPublicKeySize), payload...)
}

func TestOnPacketRecognisesBareAck(t *testing.T) {
	require := require.New(t)
	acks := &recordingAckRemover{}
	r := New(fakeGateway{}, nil, noopReplyKeys{}, nil, nil, nil, acks, nil)

	ackPayload := []byte{7, 0, 0, 0, 3}
	require.NoError(r.OnPacket(ackPayload))
	require.Len(acks.removed, 1)
	require.Equal(chunking.FragmentIdentifier{SetID: 7, Index: 3}, acks.removed[0])
}

func TestOnPacketReassemblesSingleFragmentPlainMessage(t *testing.T) {
	require := require.New(t)
	delivery := &recordingDelivery{}
	r := New(fakeGateway{}, nil, noopReplyKeys{}, nil, nil, nil, nil, delivery)

	msg := message.NewPlain([]byte("hello"))
	padded := msg.PadToFullPacketLengths(64)
	frag := chunking.SplitIntoFragments(1, padded, 64)[0]

	require.NoError(r.OnPacket(withEphemeralPrefix(frag.Bytes())))
	require.Len(delivery.delivered, 1)
	require.Equal([]byte("hello"), delivery.delivered[0].Plain)
}

func TestOnPacketWaitsForAllFragments(t *testing.T) {
	require := require.New(t)
	delivery := &recordingDelivery{}
	r := New(fakeGateway{}, nil, noopReplyKeys{}, nil, nil, nil, nil, delivery)

	msg := message.NewPlain([]byte("a longer message split across packets"))
	padded := msg.PadToFullPacketLengths(16)
	fragments := chunking.SplitIntoFragments(2, padded, 16)
	require.Greater(len(fragments), 1)

	for _, f := range fragments[:len(fragments)-1] {
		require.NoError(r.OnPacket(withEphemeralPrefix(f.Bytes())))
	}
	require.Empty(delivery.delivered)

	last := fragments[len(fragments)-1]
	require.NoError(r.OnPacket(withEphemeralPrefix(last.Bytes())))
	require.Len(delivery.delivered, 1)
}

func TestRepliableMessageDepositsAttachedSurb(t *testing.T) {
	require := require.New(t)
	delivery := &recordingDelivery{}
	sink := &recordingSurbSink{}
	r := New(fakeGateway{}, nil, noopReplyKeys{}, nil, nil, sink, nil, delivery)

	msg := message.NewRepliable(&message.RepliableMessageContent{
		SenderTag:    "alice",
		Data:         []byte("hi"),
		AttachedSurb: []byte("surb-bytes"),
	})
	padded := msg.PadToFullPacketLengths(64)
	frag := chunking.SplitIntoFragments(3, padded, 64)[0]

	require.NoError(r.OnPacket(withEphemeralPrefix(frag.Bytes())))
	require.Equal("alice", sink.tag)
	require.Equal([][]byte{[]byte("surb-bytes")}, sink.surbs)
	require.Len(delivery.delivered, 1)
}

func TestSurbRequestAnswersWithFreshSurbs(t *testing.T) {
	require := require.New(t)
	gen := &fakeSurbGenerator{surbs: [][]byte{[]byte("one"), []byte("two")}}
	sender := &fakeReplySender{}
	r := New(fakeGateway{}, nil, noopReplyKeys{}, gen, sender, nil, nil, nil)

	recipient := addressing.Recipient{Gateway: "gw"}
	msg := message.NewAdditionalSurbsRequest(recipient, 2)
	padded := msg.PadToFullPacketLengths(64)
	frag := chunking.SplitIntoFragments(4, padded, 64)[0]

	require.NoError(r.OnPacket(withEphemeralPrefix(frag.Bytes())))
	require.Equal(1, sender.calls)
}

type fakeSurbGenerator struct {
	surbs [][]byte
}

func (f *fakeSurbGenerator) GenerateSurbs(addressing.Recipient, uint32) ([][]byte, error) {
	return f.surbs, nil
}

type fakeReplySender struct {
	calls int
}

func (f *fakeReplySender) SendWithSurb(tag string, data []byte, surb []byte, lane string) error {
	f.calls++
	return nil
}
