// message.go - NymMessage variants, padding and depadding.
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

// Package message implements NymMessage: the
// Plain/Repliable/Reply sum type, its padding to an exact multiple of the
// per-packet plaintext budget, and the reverse operation on reassembly.
package message

import (
	"encoding/binary"
	"errors"

	"github.com/nymtech/nym-sub018/addressing"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/sphinxwire"
)

var (
	// ErrEmptyMessage is returned when decoding a zero-length buffer.
	ErrEmptyMessage = errors.New("message: received empty message for deserialization")

	// ErrInvalidMessageType is returned when the leading type tag is not
	// one of Plain/Repliable/Reply.
	ErrInvalidMessageType = errors.New("message: invalid type tag")

	// ErrInvalidPadding is returned when no terminator byte can be found
	// while stripping padding.
	ErrInvalidPadding = errors.New("message: incorrect zero padding, no terminator byte found")
)

// ReplyMessageContent distinguishes a reply carrying application data from
// one that is itself a request for more SURBs.
type ReplyMessageContent struct {
	IsSurbRequest bool
	// Data is populated when !IsSurbRequest.
	Data []byte
	// SurbRequestRecipient/Amount are populated when IsSurbRequest.
	SurbRequestRecipient addressing.Recipient
	SurbRequestAmount    uint32
}

// RepliableMessageContent is the payload of a message sent alongside a
// batch of fresh reply SURBs. SenderTag names the
// correspondent the attached SURB should be filed under, so the
// recipient's reply controller can later spend it against the right
// pool.
type RepliableMessageContent struct {
	SenderTag    string
	Data         []byte
	AttachedSurb []byte // opaque, owned by the reply controller
}

// NymMessage is the Plain | Repliable | Reply sum type.
type NymMessage struct {
	Type      byte // constants.MessageTypePlain/Repliable/Reply
	Plain     []byte
	Repliable *RepliableMessageContent
	Reply     *ReplyMessageContent
}

// NewPlain constructs a Plain NymMessage.
func NewPlain(data []byte) NymMessage {
	return NymMessage{Type: constants.MessageTypePlain, Plain: data}
}

// NewRepliable constructs a Repliable NymMessage.
func NewRepliable(content *RepliableMessageContent) NymMessage {
	return NymMessage{Type: constants.MessageTypeRepliable, Repliable: content}
}

// NewReply constructs a Reply NymMessage.
func NewReply(content *ReplyMessageContent) NymMessage {
	return NymMessage{Type: constants.MessageTypeReply, Reply: content}
}

// NewAdditionalSurbsRequest builds the Reply variant used to ask a
// correspondent for more SURBs.
func NewAdditionalSurbsRequest(recipient addressing.Recipient, amount uint32) NymMessage {
	return NewReply(&ReplyMessageContent{
		IsSurbRequest:        true,
		SurbRequestRecipient: recipient,
		SurbRequestAmount:    amount,
	})
}

// IsReplySurbRequest reports whether m is a Reply carrying a SurbRequest.
func (m NymMessage) IsReplySurbRequest() bool {
	return m.Type == constants.MessageTypeReply && m.Reply != nil && m.Reply.IsSurbRequest
}

// InnerData returns the application payload, regardless of which variant
// m is.
func (m NymMessage) InnerData() []byte {
	switch m.Type {
	case constants.MessageTypePlain:
		return m.Plain
	case constants.MessageTypeRepliable:
		if m.Repliable != nil {
			return m.Repliable.Data
		}
	case constants.MessageTypeReply:
		if m.Reply != nil {
			return m.Reply.Data
		}
	}
	return nil
}

// innerBytes serializes the variant-specific body, without the leading
// type tag.
func (m NymMessage) innerBytes() []byte {
	switch m.Type {
	case constants.MessageTypePlain:
		return m.Plain
	case constants.MessageTypeRepliable:
		tag := []byte(m.Repliable.SenderTag)
		surb := m.Repliable.AttachedSurb
		out := make([]byte, 0, 1+len(tag)+4+len(surb)+len(m.Repliable.Data))
		out = append(out, byte(len(tag)))
		out = append(out, tag...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(surb)))
		out = append(out, surb...)
		out = append(out, m.Repliable.Data...)
		return out
	case constants.MessageTypeReply:
		if m.Reply.IsSurbRequest {
			out := make([]byte, 0, 1+4+addressing.RecipientIDLength+len(m.Reply.SurbRequestRecipient.Gateway))
			out = append(out, 1) // surb-request sub-tag
			out = binary.BigEndian.AppendUint32(out, m.Reply.SurbRequestAmount)
			out = append(out, m.Reply.SurbRequestRecipient.ID[:]...)
			out = append(out, []byte(m.Reply.SurbRequestRecipient.Gateway)...)
			return out
		}
		return append([]byte{0}, m.Reply.Data...) // data sub-tag
	}
	return nil
}

// ToBytes serializes m as: type(1) || inner_bytes.
func (m NymMessage) ToBytes() []byte {
	return append([]byte{m.Type}, m.innerBytes()...)
}

// FromBytes parses the inverse of ToBytes.
func FromBytes(raw []byte) (NymMessage, error) {
	if len(raw) == 0 {
		return NymMessage{}, ErrEmptyMessage
	}
	typ := raw[0]
	body := raw[1:]
	switch typ {
	case constants.MessageTypePlain:
		return NewPlain(append([]byte{}, body...)), nil
	case constants.MessageTypeRepliable:
		if len(body) == 0 {
			return NymMessage{}, ErrEmptyMessage
		}
		tagLen := int(body[0])
		if len(body) < 1+tagLen+4 {
			return NymMessage{}, ErrEmptyMessage
		}
		surbLen := int(binary.BigEndian.Uint32(body[1+tagLen:]))
		rest := body[1+tagLen+4:]
		if len(rest) < surbLen {
			return NymMessage{}, ErrEmptyMessage
		}
		content := &RepliableMessageContent{
			SenderTag: string(body[1 : 1+tagLen]),
			Data:      append([]byte{}, rest[surbLen:]...),
		}
		if surbLen > 0 {
			content.AttachedSurb = append([]byte{}, rest[:surbLen]...)
		}
		return NewRepliable(content), nil
	case constants.MessageTypeReply:
		if len(body) == 0 {
			return NymMessage{}, ErrEmptyMessage
		}
		if body[0] == 1 {
			if len(body) < 1+4+addressing.RecipientIDLength {
				return NymMessage{}, ErrEmptyMessage
			}
			amount := binary.BigEndian.Uint32(body[1:5])
			var recip addressing.Recipient
			copy(recip.ID[:], body[5:5+addressing.RecipientIDLength])
			recip.Gateway = string(body[5+addressing.RecipientIDLength:])
			return NewReply(&ReplyMessageContent{IsSurbRequest: true, SurbRequestRecipient: recip, SurbRequestAmount: amount}), nil
		}
		return NewReply(&ReplyMessageContent{Data: append([]byte{}, body[1:]...)}), nil
	default:
		return NymMessage{}, ErrInvalidMessageType
	}
}

// AvailablePlaintextPerPacket computes the usable payload budget per
// Sphinx packet once the SURB-ack and variant overhead are subtracted.
func (m NymMessage) AvailablePlaintextPerPacket(packetSize sphinxwire.PacketSize) int {
	ackOverhead := sphinxwire.MaxNodeAddressUnpaddedLen + sphinxwire.AckPacketSize

	var variantOverhead int
	switch m.Type {
	case constants.MessageTypeReply:
		variantOverhead = sphinxwire.ReplyKeyDigestSize
	default:
		variantOverhead = sphinxwire.EphemeralPublicKeySize
	}

	return packetSize.PlaintextSize() - ackOverhead - variantOverhead
}

// PadToFullPacketLengths pads m so that, once chunked, it occupies exactly
// N sphinx packets: message || 0x01 || zeroes.
func (m NymMessage) PadToFullPacketLengths(plaintextPerPacket int) []byte {
	bytes := m.ToBytes()
	count, spaceLeft := numberOfRequiredFragments(len(bytes)+1, plaintextPerPacket)
	_ = count

	out := make([]byte, 0, len(bytes)+1+spaceLeft)
	out = append(out, bytes...)
	out = append(out, constants.PaddingTerminator)
	out = append(out, make([]byte, spaceLeft)...)
	return out
}

func numberOfRequiredFragments(msgLen, plaintextPerPacket int) (count, spaceLeft int) {
	count = (msgLen + plaintextPerPacket - 1) / plaintextPerPacket
	if count == 0 {
		count = 1
	}
	used := count * plaintextPerPacket
	spaceLeft = used - msgLen
	return count, spaceLeft
}

// RemovePadding reverses PadToFullPacketLengths: it scans from the tail
// for the first 0x01 terminator and parses everything before it.
func RemovePadding(padded []byte) (NymMessage, error) {
	for i := len(padded) - 1; i >= 0; i-- {
		if padded[i] == constants.PaddingTerminator {
			return FromBytes(padded[:i])
		}
	}
	return NymMessage{}, ErrInvalidPadding
}
