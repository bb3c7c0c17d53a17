// reassembly.go - recovers plaintexts and messages from inbound packets.
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

// Package reassembly implements the Reassembler: it peels the final Sphinx layer addressed to us, tells a bare
// acknowledgement from a real fragment, accumulates fragment sets, and
// routes completed messages (including any attached reply SURBs) to the
// rest of the traffic core.
package reassembly

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/message"
	"github.com/nymtech/nym-sub018/sphinxwire"
)

// ackIdentifierSize is the width of a bare fragment identifier once
// encoded as a SURB-ack's plaintext, once the next-hop address consumed
// by intermediate hops has been stripped away.
const ackIdentifierSize = 5

var (
	// ErrMalformedPayload is returned when a decrypted payload is too
	// short to contain any recognised variant prefix.
	ErrMalformedPayload = errors.New("reassembly: payload too short to be a fragment or ack")

	// ErrUnknownReplyDigest is not returned by OnPacket: a payload whose
	// prefix matches no outstanding reply key is parsed as a
	// Plain/Repliable fragment instead.
	ErrUnknownReplyDigest = errors.New("reassembly: unrecognised reply key digest, dropping")
)

// GatewayDecryptor peels the final Sphinx layer addressed to us, using
// whatever per-hop key material the key store currently holds.
type GatewayDecryptor interface {
	Decrypt(ciphertext []byte) (plaintext []byte, err error)
}

// ReplyDecryptor removes the extra shared-key layer a reply SURB adds on
// top of ordinary Sphinx decryption, so that only the client which built
// the SURB can read the reply.
type ReplyDecryptor interface {
	DecryptWithReplyKey(key, ciphertext []byte) ([]byte, error)
}

// ReplyKeyStore resolves a reply-key digest to the one-shot key and the
// correspondent tag it was issued for, and consumes it on first use.
type ReplyKeyStore interface {
	Lookup(digest [32]byte) (key []byte, tag string, ok bool)
	Consume(digest [32]byte)
}

// SurbGenerator produces fresh reply SURBs to answer a SurbRequest.
type SurbGenerator interface {
	GenerateSurbs(recipient addressing.Recipient, amount uint32) ([][]byte, error)
}

// ReplySender puts a packet on the wire using a freshly generated SURB,
// used only to answer SurbRequests.
type ReplySender interface {
	SendWithSurb(tag string, data []byte, surb []byte, lane string) error
}

// SurbDepositor receives SURBs attached to an inbound RepliableMessage,
// for the reply controller's pool.
type SurbDepositor interface {
	DepositSurbs(tag string, surbs [][]byte)
}

// AckRemover is told a fragment has been acknowledged.
type AckRemover interface {
	Remove(id chunking.FragmentIdentifier)
}

// Delivery hands a fully reassembled, depadded message to the
// application.
type Delivery interface {
	Deliver(msg message.NymMessage)
}

type fragmentSet map[uint8]*chunking.Fragment

// Reassembler is the Reassembler component.
type Reassembler struct {
	mu   sync.Mutex
	sets map[int32]fragmentSet

	gateway    GatewayDecryptor
	replyDec   ReplyDecryptor
	replyKeys  ReplyKeyStore
	surbGen    SurbGenerator
	surbSender ReplySender
	surbSink   SurbDepositor
	acks       AckRemover
	delivery   Delivery

	plaintextPerPacket func(variantOverhead int) int
}

// New constructs a Reassembler. Any of the optional collaborators may be
// nil if the corresponding inbound case will not occur (e.g. a client
// that never grants SurbRequests can omit surbGen/surbSender).
func New(
	gateway GatewayDecryptor,
	replyDec ReplyDecryptor,
	replyKeys ReplyKeyStore,
	surbGen SurbGenerator,
	surbSender ReplySender,
	surbSink SurbDepositor,
	acks AckRemover,
	delivery Delivery,
) *Reassembler {
	return &Reassembler{
		sets:       make(map[int32]fragmentSet),
		gateway:    gateway,
		replyDec:   replyDec,
		replyKeys:  replyKeys,
		surbGen:    surbGen,
		surbSender: surbSender,
		surbSink:   surbSink,
		acks:       acks,
		delivery:   delivery,
	}
}

// OnPacket processes one inbound Sphinx payload through to completion:
// ack detection, fragment accumulation, and — once a set is complete —
// message reassembly and routing.
func (r *Reassembler) OnPacket(ciphertext []byte) error {
	plaintext, err := r.gateway.Decrypt(ciphertext)
	if err != nil {
		return err
	}

	if len(plaintext) == ackIdentifierSize {
		id, ok := decodeAckIdentifier(plaintext)
		if ok {
			if r.acks != nil {
				r.acks.Remove(id)
			}
			return nil
		}
	}

	frag, err := r.extractFragment(plaintext)
	if err != nil {
		return err
	}

	r.insert(frag)
	return nil
}

// extractFragment strips the variant-specific prefix (reply-key digest
// or ephemeral public key) from plaintext and parses what remains as a
// wire-encoded Fragment.
func (r *Reassembler) extractFragment(plaintext []byte) (*chunking.Fragment, error) {
	if len(plaintext) < sphinxwire.ReplyKeyDigestSize {
		return nil, ErrMalformedPayload
	}

	var digest [32]byte
	copy(digest[:], plaintext[:sphinxwire.ReplyKeyDigestSize])

	if key, _, ok := r.replyKeys.Lookup(digest); ok {
		inner, err := r.replyDec.DecryptWithReplyKey(key, plaintext[sphinxwire.ReplyKeyDigestSize:])
		if err != nil {
			return nil, err
		}
		r.replyKeys.Consume(digest)
		return chunking.FromBytes(inner)
	}

	// Not a reply: the prefix is an ephemeral DH public key the Sphinx
	// layer already consumed, so what follows is the Fragment directly.
	if len(plaintext) < sphinxwire.EphemeralPublicKeySize {
		return nil, ErrMalformedPayload
	}
	return chunking.FromBytes(plaintext[sphinxwire.EphemeralPublicKeySize:])
}

func (r *Reassembler) insert(frag *chunking.Fragment) {
	r.mu.Lock()
	set, ok := r.sets[frag.SetID]
	if !ok {
		set = make(fragmentSet)
		r.sets[frag.SetID] = set
	}
	set[frag.Index] = frag
	complete := chunking.IsComplete(set)
	if complete {
		delete(r.sets, frag.SetID)
	}
	r.mu.Unlock()

	if !complete {
		return
	}

	padded, err := chunking.Reassemble(set)
	if err != nil {
		return
	}
	msg, err := message.RemovePadding(padded)
	if err != nil {
		return
	}
	r.route(msg)
}

// route dispatches a fully reassembled message per its variant.
func (r *Reassembler) route(msg message.NymMessage) {
	switch msg.Type {
	case constants.MessageTypeRepliable:
		if msg.Repliable != nil && len(msg.Repliable.AttachedSurb) > 0 && r.surbSink != nil {
			r.surbSink.DepositSurbs(msg.Repliable.SenderTag, [][]byte{msg.Repliable.AttachedSurb})
		}
	case constants.MessageTypeReply:
		if msg.IsReplySurbRequest() {
			r.answerSurbRequest(msg)
			return
		}
	}

	if r.delivery != nil {
		r.delivery.Deliver(msg)
	}
}

func (r *Reassembler) answerSurbRequest(msg message.NymMessage) {
	if r.surbGen == nil || r.surbSender == nil {
		return
	}
	recipient := msg.Reply.SurbRequestRecipient
	surbs, err := r.surbGen.GenerateSurbs(recipient, msg.Reply.SurbRequestAmount)
	if err != nil || len(surbs) == 0 {
		return
	}
	tag := recipient.String()
	for _, surb := range surbs[1:] {
		_ = r.surbSender.SendWithSurb(tag, nil, surb, "additional_reply_surbs")
	}
}

func decodeAckIdentifier(b []byte) (chunking.FragmentIdentifier, bool) {
	if len(b) != ackIdentifierSize {
		return chunking.FragmentIdentifier{}, false
	}
	setID := int32(binary.LittleEndian.Uint32(b[:4]))
	return chunking.FragmentIdentifier{SetID: setID, Index: b[4]}, true
}
