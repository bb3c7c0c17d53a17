// client_test.go - traffic core wiring tests.
// Copyright (C) 2017  David Stainton, Yawning Angel
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

package client

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/config"
	"github.com/nymtech/nym-sub018/message"
	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/nymtech/nym-sub018/surbstore"
	"github.com/nymtech/nym-sub018/topology"
	"github.com/nymtech/nym-sub018/transmission"
)

// fakeSphinx performs no real cryptography; BuildPacket hands the payload
// straight back so tests can inspect exactly what was sent.
type fakeSphinx struct{}

func (fakeSphinx) BuildPacket(route []sphinxwire.Hop, destination [32]byte, payload []byte, perHopDelays []time.Duration) ([]byte, *net.TCPAddr, time.Duration, error) {
	return append([]byte{}, payload...), route[0].Address, 0, nil
}

func (fakeSphinx) Process(packet []byte, hopKey []byte) (*sphinxwire.ProcessedPacket, error) {
	return &sphinxwire.ProcessedPacket{Final: &sphinxwire.FinalPayload{Payload: packet}}, nil
}

// fakeTransceiver records every packet handed to the mix traffic
// controller instead of dialing a real gateway.
type fakeTransceiver struct {
	mu      sync.Mutex
	packets []*sphinxwire.MixPacket
}

func (f *fakeTransceiver) SendMixPacket(packet *sphinxwire.MixPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, packet)
	return nil
}

func (f *fakeTransceiver) BatchSendMixPackets(packets []*sphinxwire.MixPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, packets...)
	return nil
}

func (f *fakeTransceiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

// fakeGatewayDecryptor treats its input as already-plaintext, standing in
// for the real per-hop Sphinx decryption this module does not implement.
type fakeGatewayDecryptor struct{}

func (fakeGatewayDecryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

type fakeReplyDecryptor struct{}

func (fakeReplyDecryptor) DecryptWithReplyKey(key, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

// fakeReplyKeyStore never recognises a digest, so extractFragment always
// falls through to the ephemeral-key-prefixed Plain/Repliable path.
type fakeReplyKeyStore struct{}

func (fakeReplyKeyStore) Lookup(digest [32]byte) ([]byte, string, bool) { return nil, "", false }
func (fakeReplyKeyStore) Consume(digest [32]byte)                      {}

type fakeSurbGenerator struct{}

func (fakeSurbGenerator) GenerateSurbs(recipient addressing.Recipient, amount uint32) ([][]byte, error) {
	return nil, nil
}

// fakeHandler records delivered application messages.
type fakeHandler struct {
	mu  sync.Mutex
	got []message.NymMessage
}

func (h *fakeHandler) Deliver(msg message.NymMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, msg)
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func pinTestTopology(t *testing.T, topo *topology.Topology) {
	t.Helper()
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:1789")
	mk := func(layer uint8, name string) *topology.MixDescriptor {
		return &topology.MixDescriptor{Layer: layer, Name: name, Address: addr}
	}
	topo.SetManual(
		[][]*topology.MixDescriptor{{mk(0, "m0")}},
		map[string]*topology.MixDescriptor{"gw": mk(1, "gw")},
	)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Logging: config.Logging{Disable: true},
		Debug:   config.Debug{NoCover: true},
		Client: config.Client{
			Gateway:                "gw",
			StorageDir:             t.TempDir(),
			AvgSendingDelaySeconds: 0.001,
			AvgPacketDelaySeconds:  0.001,
			AvgAckDelaySeconds:     30,
		},
		Topology: config.Topology{
			// A single mix hop: routes are the one mix layer pinned
			// in pinTestTopology below, followed by the exit
			// gateway.
			Hops:                 1,
			EpochDurationSeconds: 60,
			ValidityEpochs:       1,
		},
	}
}

const testPassphrase = "correct horse battery staple extra"

func newTestClient(t *testing.T, transceiver *fakeTransceiver, handler *fakeHandler) *Client {
	t.Helper()
	cfg := testConfig(t)
	deps := Deps{
		Sphinx:         fakeSphinx{},
		Transceiver:    transceiver,
		GatewayDecrypt: fakeGatewayDecryptor{},
		ReplyDecrypt:   fakeReplyDecryptor{},
		ReplyKeys:      fakeReplyKeyStore{},
		SurbGen:        fakeSurbGenerator{},
		Handler:        handler,
	}
	c, err := New(cfg, testPassphrase, deps, 1, time.Now())
	require.NoError(t, err)
	pinTestTopology(t, c.topo)
	return c
}

func TestSendReleasesPreparedPacketToGateway(t *testing.T) {
	transceiver := &fakeTransceiver{}
	handler := &fakeHandler{}
	c := newTestClient(t, transceiver, handler)

	c.Start()
	defer c.Stop()

	recipient := addressing.Recipient{Gateway: "gw"}
	recipient.ID[0] = 0x42

	err := c.Send(recipient, []byte("hello, nym"), transmission.Lane("conn-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return transceiver.count() > 0
	}, time.Second, time.Millisecond)
}

func TestSendRejectsWhenGatewayUnknown(t *testing.T) {
	transceiver := &fakeTransceiver{}
	handler := &fakeHandler{}
	c := newTestClient(t, transceiver, handler)

	err := c.Send(addressing.Recipient{Gateway: "nonexistent"}, []byte("hi"), transmission.Lane("conn-1"))
	require.Error(t, err)
}

func TestReassemblyDeliversSingleFragmentMessage(t *testing.T) {
	transceiver := &fakeTransceiver{}
	handler := &fakeHandler{}
	c := newTestClient(t, transceiver, handler)

	msg := message.NewPlain([]byte("a short reply body"))
	perPacket := msg.AvailablePlaintextPerPacket(sphinxwire.RegularPacket)
	padded := msg.PadToFullPacketLengths(perPacket)
	fragments := chunking.SplitIntoFragments(1, padded, perPacket)
	require.Len(t, fragments, 1)

	// The production Sphinx primitive would have already peeled off its
	// own ephemeral-key prefix before handing this plaintext to
	// reassembly.OnPacket; a fixed-size zero prefix stands in for it
	// here since fakeSphinx performs no real cryptography.
	var prefix [sphinxwire.EphemeralPublicKeySize]byte
	plaintext := append(append([]byte{}, prefix[:]...), fragments[0].Bytes()...)

	err := c.reassembler.OnPacket(plaintext)
	require.NoError(t, err)
	require.Equal(t, 1, handler.count())
}

func TestFlushPersistsSurbPoolAndLoadRestoresIt(t *testing.T) {
	transceiver := &fakeTransceiver{}
	handler := &fakeHandler{}
	c := newTestClient(t, transceiver, handler)

	c.replies.DepositSurbs("friend", [][]byte{[]byte("surb-one"), []byte("surb-two")})

	require.NoError(t, c.Flush())

	reloaded := surbstore.New(c.cfg.Client.StorageDir + "/reply_surbs.db")
	snap, ok, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("surb-one"), []byte("surb-two")}, snap.ReplySurbs["friend"])
}

func TestObserveEpochAdvancesRotation(t *testing.T) {
	transceiver := &fakeTransceiver{}
	handler := &fakeHandler{}
	c := newTestClient(t, transceiver, handler)

	before := c.rotation.CurrentRotationID()
	c.ObserveEpoch(10, time.Now())
	require.Greater(t, c.rotation.CurrentRotationID(), before)
}
