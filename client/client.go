// client.go - wires the traffic core components into one running client.
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

// Package client assembles the topology accessor, key store, fragment
// preparer, acknowledgement controller, reply controller, transmission
// buffer, out-queue controller, mix traffic controller and reassembler
// into a single running client, the way katzenpost-client's own Client
// type assembles its session, proxy and listener pieces.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/katzenpost/core/worker"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/nymtech/nym-sub018/ack"
	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/config"
	"github.com/nymtech/nym-sub018/keystore"
	"github.com/nymtech/nym-sub018/message"
	"github.com/nymtech/nym-sub018/mixtraffic"
	"github.com/nymtech/nym-sub018/outqueue"
	"github.com/nymtech/nym-sub018/preparer"
	"github.com/nymtech/nym-sub018/reassembly"
	"github.com/nymtech/nym-sub018/reply"
	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/nymtech/nym-sub018/surbstore"
	"github.com/nymtech/nym-sub018/topology"
	"github.com/nymtech/nym-sub018/transmission"
)

// ErrNotRunning is not returned by any Client method: Send accepts
// messages before Start, and they are released once Start launches the
// lane pump.
var ErrNotRunning = errors.New("client: client is not running")

// Handler receives application messages recovered by the reassembler.
type Handler interface {
	Deliver(msg message.NymMessage)
}

// retransmitMeta is the context Send stashes per fragment so the
// acknowledgement controller can rebuild and resend it on timeout,
// without re-splitting the message it came from.
type retransmitMeta struct {
	fragment   *chunking.Fragment
	opts       preparer.PrepareOptions
	lane       transmission.Lane
	senderTag  string // non-empty for anonymous (reply-SURB) sends
}

// Client wires every traffic core component into one running instance.
type Client struct {
	worker.Worker

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	keys     *keystore.KeyStore
	rotation *keystore.RotationState
	topo     *topology.Topology
	sphinx   sphinxwire.Sphinx

	preparer    *preparer.Preparer
	acker       *ack.Controller
	replies     *reply.Controller
	txBuffer    *transmission.Buffer
	outq        *outqueue.Controller
	mix         *mixtraffic.Controller
	reassembler *reassembly.Reassembler
	surbs       *surbstore.Store

	selfID      [32]byte
	selfGateway string

	mu           sync.Mutex
	pendingMeta  map[chunking.FragmentIdentifier]retransmitMeta
}

// Deps carries the collaborators that fall outside this module's scope:
// the actual Sphinx implementation, the socket to the entry gateway, the
// directory authority client, and the per-hop/reply decryption and
// SURB-generation primitives the reassembler needs.
type Deps struct {
	Sphinx         sphinxwire.Sphinx
	Transceiver    mixtraffic.GatewayTransceiver
	TopologyFetch  topology.Fetcher
	GatewayDecrypt reassembly.GatewayDecryptor
	ReplyDecrypt   reassembly.ReplyDecryptor
	ReplyKeys      reassembly.ReplyKeyStore
	SurbGen        reassembly.SurbGenerator
	SelfID         [32]byte
	Handler        Handler
}

// New constructs a Client from cfg and deps. It loads (or generates) the
// long-term identity keypair, seeds the rotation schedule from the
// current on-chain epoch, and wires every component together, but does
// not start any background loop until Start is called.
func New(cfg *config.Config, passphrase string, deps Deps, currentEpoch uint64, now time.Time) (*Client, error) {
	if err := cfg.Debug.Validate(); err != nil {
		return nil, err
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, fmt.Errorf("client: failed to initialize logging: %v", err)
	}

	keyPath := cfg.Client.StorageDir + "/identity.key"
	keys, err := keystore.LoadOrGenerate(keyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("client: failed to load identity key: %v", err)
	}

	rotation := keystore.NewRotationState(currentEpoch, cfg.Topology.EpochDuration(), cfg.Topology.ValidityEpochs, now)

	topo := topology.New(deps.TopologyFetch, cfg.Topology.Hops)

	lambda := 1.0 / cfg.Client.AvgPacketDelay().Seconds()
	prep := preparer.New(deps.Sphinx, topo, lambda)

	surbs := surbstore.New(cfg.Client.StorageDir + "/reply_surbs.db")

	c := &Client{
		cfg:         cfg,
		logBackend:  logBackend,
		log:         logBackend.GetLogger("client"),
		keys:        keys,
		rotation:    rotation,
		topo:        topo,
		sphinx:      deps.Sphinx,
		preparer:    prep,
		txBuffer:    transmission.New(),
		surbs:       surbs,
		selfID:      deps.SelfID,
		selfGateway: cfg.Client.Gateway,
		pendingMeta: make(map[chunking.FragmentIdentifier]retransmitMeta),
	}

	c.acker = ack.New(c, cfg.Client.AvgAckDelay(), c.onGiveUp)
	c.replies = reply.New(c, 0)
	c.mix = mixtraffic.New(deps.Transceiver, c.onGatewayDead)
	c.outq = outqueue.New(cfg.Client.AvgSendingDelay(), c, c.mix, c)
	c.outq.NoCover = cfg.Debug.NoCover
	c.reassembler = reassembly.New(
		deps.GatewayDecrypt,
		deps.ReplyDecrypt,
		deps.ReplyKeys,
		deps.SurbGen,
		c,
		c.replies,
		c.acker,
		deps.Handler,
	)

	if snap, ok, err := surbs.Load(); err == nil && ok {
		for tag, pool := range snap.ReplySurbs {
			c.replies.DepositSurbs(tag, pool)
		}
	}

	return c, nil
}

// Start launches the background lane-pump loop that drains the
// transmission buffer into the out-queue controller.
func (c *Client) Start() {
	c.Go(c.pumpLanes)
}

// Stop halts this Client's own lane-pump loop and every component
// controller that owns a background worker (ack, outqueue, mixtraffic).
// The reply controller runs no worker of its own and needs no halting.
func (c *Client) Stop() {
	c.Halt()
	c.acker.Halt()
	c.outq.Halt()
	c.mix.Halt()
}

func (c *Client) pumpLanes() {
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}
		lane, item, ok := c.txBuffer.PopNextMessageAtRandom()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		rm, ok := item.(outqueue.RealMessage)
		if !ok {
			continue
		}
		_ = lane
		c.outq.Submit(rm)
	}
}

// Send fragments data, samples a route and delays per fragment, and
// files each prepared fragment onto lane for release by the out-queue
// controller.
func (c *Client) Send(recipient addressing.Recipient, data []byte, lane transmission.Lane) error {
	msg := message.NewPlain(data)
	return c.sendMessage(msg, recipient, lane)
}

// SendRepliable behaves like Send but attaches a batch of fresh reply
// SURBs so the recipient can answer anonymously, tagged under senderTag
// so they know which correspondent pool to spend them from.
func (c *Client) SendRepliable(recipient addressing.Recipient, data []byte, lane transmission.Lane, senderTag string, surbs [][]byte) error {
	msg := message.NewRepliable(&message.RepliableMessageContent{
		SenderTag:    senderTag,
		Data:         data,
		AttachedSurb: encodeSurbBatch(surbs),
	})
	return c.sendMessage(msg, recipient, lane)
}

func (c *Client) sendMessage(msg message.NymMessage, recipient addressing.Recipient, lane transmission.Lane) error {
	opts := preparer.PrepareOptions{
		Recipient:   recipient,
		SelfID:      c.selfID,
		SelfGateway: c.selfGateway,
		PacketSize:  c.packetSize(),
	}

	prepared, err := c.preparer.Prepare(msg, opts)
	if err != nil {
		return err
	}

	for _, pf := range prepared {
		c.fileFragment(pf, opts, lane, "")
	}
	return nil
}

func (c *Client) fileFragment(pf *preparer.PreparedFragment, opts preparer.PrepareOptions, lane transmission.Lane, senderTag string) {
	id := pf.Fragment.ID()

	c.mu.Lock()
	c.pendingMeta[id] = retransmitMeta{fragment: pf.Fragment, opts: opts, lane: lane, senderTag: senderTag}
	c.mu.Unlock()

	dest := ack.PacketDestination{Known: senderTag == ""}
	if senderTag != "" {
		dest.SenderTag = senderTag
	}

	c.acker.Insert(&ack.PendingAck{
		ID:          id,
		Chunk:       pf.Fragment,
		Destination: dest,
		SentAt:      time.Now(),
		TotalDelay:  pf.TotalDelay,
	})
	c.acker.StartTimer(id)

	c.txBuffer.Store(lane, outqueue.RealMessage{Packet: pf.Packet, FragmentID: id})
}

func (c *Client) packetSize() sphinxwire.PacketSize {
	if c.cfg.Debug.MediumToggle {
		return sphinxwire.ExtendedPacket
	}
	return sphinxwire.RegularPacket
}

func (c *Client) onGiveUp(entry *ack.PendingAck) {
	c.log.Warningf("giving up on fragment %v after %d retransmissions", entry.ID, entry.RetransmissionCount)
	c.mu.Lock()
	delete(c.pendingMeta, entry.ID)
	c.mu.Unlock()
}

func (c *Client) onGatewayDead() {
	c.log.Error("gateway connection presumed dead after consecutive send failures, reconnect needed")
}

// Retransmit implements ack.Retransmitter: it re-wraps the same fragment
// bytes in a freshly sampled Sphinx packet (known destination) or routes
// the retransmission through the reply controller (anonymous
// destination).
func (c *Client) Retransmit(entry *ack.PendingAck) (time.Duration, error) {
	c.mu.Lock()
	meta, ok := c.pendingMeta[entry.ID]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("client: no retransmit context for fragment %v", entry.ID)
	}

	if !entry.Destination.Known {
		err := c.replies.SendRetransmissionData(entry.Destination.SenderTag, meta.fragment.Bytes(), string(meta.lane), entry.Destination.ExtraSurbRequest)
		return c.cfg.Client.AvgPacketDelay(), err
	}

	pf, err := c.preparer.RepeatFragment(meta.fragment, meta.opts)
	if err != nil {
		return 0, err
	}
	c.txBuffer.Store(meta.lane, outqueue.RealMessage{Packet: pf.Packet, FragmentID: entry.ID})
	return pf.TotalDelay, nil
}

// BuildCover implements outqueue.CoverBuilder: a Sphinx packet addressed
// to ourselves, through our own entry gateway, carrying no payload.
func (c *Client) BuildCover() (*sphinxwire.MixPacket, error) {
	route, err := c.topo.RandomRouteToGateway(c.selfGateway)
	if err != nil {
		return nil, err
	}
	hops := make([]sphinxwire.Hop, len(route))
	for i, d := range route {
		hops[i] = sphinxwire.Hop{ID: d.ID, Address: d.Address}
		if d.PublicKey != nil {
			hops[i].PublicKey = d.PublicKey.Bytes()
		}
	}
	delays := make([]time.Duration, len(hops))
	rawPacket, firstHop, _, err := c.sphinx.BuildPacket(hops, c.selfID, nil, delays)
	if err != nil {
		return nil, err
	}
	return &sphinxwire.MixPacket{FirstHopAddress: firstHop, Size: c.packetSize(), Payload: rawPacket}, nil
}

// NotifySent implements outqueue.SentNotifier: it exists only to satisfy
// the interface, since the timer is already armed at Insert time, ahead
// of the packet's actual release.
func (c *Client) NotifySent(fragmentID chunking.FragmentIdentifier) {}

// SendWithSurb implements reply.Sender and reassembly.ReplySender: it
// repackages data as a Reply NymMessage and hands surb directly to the
// mix traffic controller, bypassing the preparer's own route sampling
// since the SURB already names its route.
func (c *Client) SendWithSurb(tag string, data []byte, surb []byte, lane string) error {
	msg := message.NewReply(&message.ReplyMessageContent{Data: data})
	packet := &sphinxwire.MixPacket{Payload: append(append([]byte{}, surb...), msg.ToBytes()...), Size: c.packetSize()}
	c.mix.Enqueue(packet)
	return nil
}

// SendSurbRequest implements reply.Sender: it asks tag's correspondent
// for amount additional SURBs, spending usingSurb to do so.
func (c *Client) SendSurbRequest(tag string, amount uint32, usingSurb []byte) error {
	recipient := addressing.Recipient{Gateway: c.selfGateway, ID: c.selfID}
	msg := message.NewAdditionalSurbsRequest(recipient, amount)
	packet := &sphinxwire.MixPacket{Payload: append(append([]byte{}, usingSurb...), msg.ToBytes()...), Size: c.packetSize()}
	c.mix.Enqueue(packet)
	return nil
}

// Flush persists the current reply-SURB pool to disk using the crash-safe
// rotate-then-write-then-delete-old store, so a later New finds the same
// pool via surbs.Load.
//
// UsedSenderTags and ReplyKeys are left unset: that bookkeeping lives in
// deps.ReplyKeys (the reassembly.ReplyKeyStore collaborator), which this
// module treats as an external boundary the same way it treats the Sphinx
// primitive, and so has nothing of its own to snapshot there.
func (c *Client) Flush() error {
	return c.surbs.Flush(surbstore.Snapshot{
		ReplySurbs: c.replies.Snapshot(),
	})
}

// ObserveEpoch feeds a freshly fetched on-chain epoch id into the
// rotation schedule, advancing the current gateway key rotation id when
// a boundary is crossed.
func (c *Client) ObserveEpoch(epochID uint64, now time.Time) {
	c.rotation.Observe(epochID, now)
}

func encodeSurbBatch(surbs [][]byte) []byte {
	var out []byte
	for _, s := range surbs {
		var length [2]byte
		length[0] = byte(len(s))
		length[1] = byte(len(s) >> 8)
		out = append(out, length[0], length[1])
		out = append(out, s...)
	}
	return out
}
