// sphinxwire.go - contracts for the external Sphinx packet primitive.
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

// Package sphinxwire names the boundary between the traffic core and the
// Sphinx packet construction primitive, treated as an opaque black box
// out of scope for this module. Nothing in this package
// implements Sphinx cryptography; it only types the contract.
package sphinxwire

import (
	"net"
	"time"
)

// PacketSize distinguishes the two fixed-size Sphinx packet variants the
// network accepts concurrently. The byte size
// itself is carried out-of-band by the adjacent framing layer, so this
// type is purely a selector.
type PacketSize uint8

const (
	// RegularPacket is the default packet size.
	RegularPacket PacketSize = iota
	// ExtendedPacket carries a larger plaintext payload; it is used for
	// every packet when "medium_toggle" is set.
	ExtendedPacket
)

// Byte widths for the two packet size variants, and the overhead the
// fragment preparer must account for before splitting a message.
const (
	RegularPlaintextSize  = 2 * 1024
	ExtendedPlaintextSize = 6 * 1024

	// AckPacketSize is the footprint, in the plaintext budget, of an
	// embedded SURB-ack's packet-size field.
	AckPacketSize = 1

	// MaxNodeAddressUnpaddedLen is the footprint of the SURB-ack's
	// next-hop address field.
	MaxNodeAddressUnpaddedLen = 19

	// EphemeralPublicKeySize is the variant overhead for Plain/Repliable
	// messages: an ephemeral DH public key.
	EphemeralPublicKeySize = 32

	// ReplyKeyDigestSize is the variant overhead for Reply messages: the
	// digest identifying which one-shot reply key to use.
	ReplyKeyDigestSize = 32
)

// PlaintextSize returns the usable plaintext budget for a packet size
// variant, before the SURB-ack/variant overhead accounted for by
// message.AvailablePlaintextPerPacket.
func (p PacketSize) PlaintextSize() int {
	switch p {
	case ExtendedPacket:
		return ExtendedPlaintextSize
	default:
		return RegularPlaintextSize
	}
}

// MixPacket is an opaque, fixed-size Sphinx packet ready to be handed to
// the entry gateway, paired with the first hop it must be sent to.
type MixPacket struct {
	FirstHopAddress *net.TCPAddr
	Size            PacketSize
	Payload         []byte
}

// Hop names one mix relay on a sampled route: its routing identity and
// the public key used to peel this packet's outermost layer.
type Hop struct {
	ID        [32]byte
	PublicKey []byte
	Address   *net.TCPAddr
}

// ProcessedPacket is the result of peeling one layer off a Sphinx packet.
// Exactly one of Forward / Final is populated.
type ProcessedPacket struct {
	// Forward is set when there is another hop to pass the packet to.
	Forward *ForwardPacket
	// Final is set when this hop is the packet's terminus.
	Final *FinalPayload
}

// ForwardPacket is the next layer to relay, with its own additional
// delay.
type ForwardPacket struct {
	NextHop *net.TCPAddr
	Delay   time.Duration
	Payload []byte
}

// FinalPayload is the plaintext recovered at a packet's terminus.
type FinalPayload struct {
	Payload []byte
}

// Sphinx is the external cryptographic primitive the traffic core
// consumes. A production build wires this to the network's actual Sphinx
// implementation; tests wire it to a fake that performs no real
// cryptography.
type Sphinx interface {
	// BuildPacket constructs a Sphinx packet along route, destined for
	// destination, carrying payload, with perHopDelays applied at each
	// non-terminal hop.
	BuildPacket(route []Hop, destination [32]byte, payload []byte, perHopDelays []time.Duration) (packet []byte, firstHop *net.TCPAddr, totalDelay time.Duration, err error)

	// Process peels one layer off packet using hopKey, yielding either a
	// ForwardPacket or a FinalPayload.
	Process(packet []byte, hopKey []byte) (*ProcessedPacket, error)
}
