// preparer.go - splits NymMessages into Sphinx-ready prepared fragments.
// Copyright (C) 2018  David Stainton.
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

// Package preparer implements the Fragment Preparer: it pads and splits a NymMessage into Fragments, samples a route and
// per-hop delays for each one, and hands back PreparedFragments ready for
// the mix traffic controller.
package preparer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/katzenpost/core/crypto/rand"
	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/message"
	"github.com/nymtech/nym-sub018/sphinxwire"
	"github.com/nymtech/nym-sub018/topology"
)

var (
	// ErrTooLargeMessage is returned when a message cannot be fragmented
	// within the sender's fragment-count limits.
	ErrTooLargeMessage = errors.New("preparer: message too large to fragment")

	// ErrPacketConstructionFailed wraps any error surfaced by the Sphinx
	// primitive while building a packet.
	ErrPacketConstructionFailed = errors.New("preparer: sphinx packet construction failed")
)

// PreparedFragment is a Fragment that has been wrapped into a Sphinx
// packet, ready to be queued.
type PreparedFragment struct {
	Fragment   *chunking.Fragment
	Packet     *sphinxwire.MixPacket
	TotalDelay time.Duration
	SURBID     [constants.SURBIDLength]byte
}

// Preparer turns outbound NymMessages into PreparedFragments.
type Preparer struct {
	sphinx  sphinxwire.Sphinx
	topo    *topology.Topology
	setIDs  *chunking.SetIDGenerator
	lambda  float64 // avg_packet_delay rate parameter, 1/mean
}

// New constructs a Preparer. lambda is the rate parameter of the
// per-hop exponential delay distribution, i.e. 1/avg_packet_delay.
func New(sphinx sphinxwire.Sphinx, topo *topology.Topology, lambda float64) *Preparer {
	return &Preparer{
		sphinx: sphinx,
		topo:   topo,
		setIDs: chunking.NewSetIDGenerator(),
		lambda: lambda,
	}
}

// drawDelays samples hops-1 exponential delays with mean 1/lambda,
// leaving the final (gateway) hop delay at zero as the network does not
// delay egress at the last hop.
func (p *Preparer) drawDelays(hops int) []time.Duration {
	src := rand.NewMath()
	delays := make([]time.Duration, hops)
	for i := 0; i < hops-1; i++ {
		seconds := rand.Exp(src, p.lambda)
		delays[i] = time.Duration(seconds * float64(time.Second))
	}
	return delays
}

// buildSurbAck constructs a pre-addressed single-use reply block so the
// recipient mix can acknowledge delivery back to us.
// The wire representation is opaque to this package: it is whatever the
// Sphinx primitive embeds as the packet's plaintext preamble.
func (p *Preparer) buildSurbAck(selfGateway string, recipientID [32]byte) ([]byte, time.Duration, error) {
	route, err := p.topo.RandomRouteToGateway(selfGateway)
	if err != nil {
		return nil, 0, err
	}
	delays := p.drawDelays(len(route))
	hops := toSphinxHops(route)

	ackPacket, _, totalDelay, err := p.sphinx.BuildPacket(hops, recipientID, nil, delays)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPacketConstructionFailed, err)
	}
	return ackPacket, totalDelay, nil
}

func toSphinxHops(route []*topology.MixDescriptor) []sphinxwire.Hop {
	hops := make([]sphinxwire.Hop, len(route))
	for i, d := range route {
		hops[i] = sphinxwire.Hop{ID: d.ID, Address: d.Address}
		if d.PublicKey != nil {
			hops[i].PublicKey = d.PublicKey.Bytes()
		}
	}
	return hops
}

// PrepareOptions carries the per-message parameters the preparer needs
// beyond the message bytes themselves.
type PrepareOptions struct {
	Recipient  addressing.Recipient
	SelfID     [32]byte // our own recipient id, for the attached SURB-ack
	SelfGateway string
	PacketSize sphinxwire.PacketSize
}

// Prepare pads and splits msg, producing one PreparedFragment per
// resulting Fragment.
func (p *Preparer) Prepare(msg message.NymMessage, opts PrepareOptions) ([]*PreparedFragment, error) {
	perPacket := msg.AvailablePlaintextPerPacket(opts.PacketSize)
	if perPacket <= 0 {
		return nil, ErrTooLargeMessage
	}

	padded := msg.PadToFullPacketLengths(perPacket)
	setID := p.setIDs.Next()
	fragments := chunking.SplitIntoFragments(setID, padded, perPacket)
	if len(fragments) > 255 {
		return nil, ErrTooLargeMessage
	}

	prepared := make([]*PreparedFragment, 0, len(fragments))
	for _, frag := range fragments {
		pf, err := p.prepareOne(frag, opts)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, pf)
	}
	return prepared, nil
}

// RepeatFragment re-wraps an already-split Fragment in a fresh Sphinx
// packet: a freshly sampled route and per-hop delays, but the same
// fragment bytes. The acknowledgement controller's retransmitter calls
// this on timer fire instead of re-running Prepare, since the fragment
// set must not be re-split mid-flight.
func (p *Preparer) RepeatFragment(frag *chunking.Fragment, opts PrepareOptions) (*PreparedFragment, error) {
	return p.prepareOne(frag, opts)
}

func (p *Preparer) prepareOne(frag *chunking.Fragment, opts PrepareOptions) (*PreparedFragment, error) {
	route, err := p.topo.RandomRouteToGateway(opts.Recipient.Gateway)
	if err != nil {
		return nil, err
	}
	delays := p.drawDelays(len(route))
	hops := toSphinxHops(route)

	surbAck, _, err := p.buildSurbAck(opts.SelfGateway, opts.SelfID)
	if err != nil {
		return nil, err
	}

	payload := append(append([]byte{}, surbAck...), frag.Bytes()...)

	rawPacket, firstHop, totalDelay, err := p.sphinx.BuildPacket(hops, opts.Recipient.ID, payload, delays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketConstructionFailed, err)
	}

	var surbID [constants.SURBIDLength]byte
	if _, err := io.ReadFull(rand.Reader, surbID[:]); err != nil {
		return nil, err
	}

	return &PreparedFragment{
		Fragment: frag,
		Packet: &sphinxwire.MixPacket{
			FirstHopAddress: firstHop,
			Size:            opts.PacketSize,
			Payload:         rawPacket,
		},
		TotalDelay: totalDelay,
		SURBID:     surbID,
	}, nil
}
