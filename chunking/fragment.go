// fragment.go - message fragments and fragment identifiers.
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

// Package chunking splits a padded message into fixed-size Fragments and
// reassembles a fragment set back into the original bytes.
package chunking

import (
	"encoding/binary"
	"errors"
)

const (
	// setIDOff/flagsOff/indexOff/payloadOff lay out the fragment header:
	// set_id (i32 little-endian) || flags (u8) || index (u8).
	setIDOff   = 0
	flagsOff   = 4
	indexOff   = 5
	payloadOff = 6

	// HeaderLength is the fixed width of a Fragment header.
	HeaderLength = payloadOff

	// flagLast marks the final fragment of a set, so the reassembler can
	// recognise a complete set without foreknowledge of its size.
	flagLast byte = 1 << 0
)

var (
	// ErrOversizedPayload is returned when a Fragment's payload exceeds
	// the per-packet budget it was constructed with.
	ErrOversizedPayload = errors.New("chunking: fragment payload exceeds per-packet budget")

	// ErrMalformedFragment is returned when a wire-decoded fragment is
	// shorter than HeaderLength.
	ErrMalformedFragment = errors.New("chunking: malformed fragment, too short")
)

// FragmentIdentifier is the 40-bit (set_id, fragment_index) tuple that
// uniquely and stably names one fragment for the lifetime of a send
// attempt. Ordering is by SetID first, then Index.
type FragmentIdentifier struct {
	SetID int32
	Index uint8
}

// Less orders identifiers first by SetID, then Index.
func (f FragmentIdentifier) Less(other FragmentIdentifier) bool {
	if f.SetID != other.SetID {
		return f.SetID < other.SetID
	}
	return f.Index < other.Index
}

// Fragment is one piece of a fragment set: up to N_max bytes of payload
// plus its position within the set.
type Fragment struct {
	SetID   int32
	Index   uint8
	Last    bool
	Payload []byte
}

// ID returns the stable identifier for this fragment.
func (f *Fragment) ID() FragmentIdentifier {
	return FragmentIdentifier{SetID: f.SetID, Index: f.Index}
}

// PayloadSize returns the size of the fragment's payload, excluding its
// header.
func (f *Fragment) PayloadSize() int {
	return len(f.Payload)
}

// Bytes serializes the fragment to its wire representation: header
// followed by payload.
func (f *Fragment) Bytes() []byte {
	out := make([]byte, HeaderLength+len(f.Payload))
	binary.LittleEndian.PutUint32(out[setIDOff:], uint32(f.SetID))
	var flags byte
	if f.Last {
		flags |= flagLast
	}
	out[flagsOff] = flags
	out[indexOff] = f.Index
	copy(out[payloadOff:], f.Payload)
	return out
}

// FromBytes decodes a Fragment from its wire representation.
func FromBytes(raw []byte) (*Fragment, error) {
	if len(raw) < HeaderLength {
		return nil, ErrMalformedFragment
	}
	setID := int32(binary.LittleEndian.Uint32(raw[setIDOff:]))
	flags := raw[flagsOff]
	index := raw[indexOff]
	payload := make([]byte, len(raw)-HeaderLength)
	copy(payload, raw[payloadOff:])

	return &Fragment{
		SetID:   setID,
		Index:   index,
		Last:    flags&flagLast != 0,
		Payload: payload,
	}, nil
}
