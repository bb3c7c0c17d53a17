// set.go - fragment set completeness checks and reassembly.
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

package chunking

import "errors"

// NumberOfRequiredFragments returns how many fragments of at most
// plaintextPerPacket bytes are needed to hold msgLen bytes, and how many
// bytes of the final fragment are left unused.
func NumberOfRequiredFragments(msgLen, plaintextPerPacket int) (count int, spaceLeft int) {
	if plaintextPerPacket <= 0 {
		panic("chunking: plaintextPerPacket must be positive")
	}
	count = (msgLen + plaintextPerPacket - 1) / plaintextPerPacket
	if count == 0 {
		count = 1
	}
	used := count * plaintextPerPacket
	spaceLeft = used - msgLen
	return count, spaceLeft
}

// SplitIntoFragments splits padded (already padded to an exact multiple of
// plaintextPerPacket by the message package) into a complete fragment set
// sharing a single setID.
func SplitIntoFragments(setID int32, padded []byte, plaintextPerPacket int) []*Fragment {
	count, _ := NumberOfRequiredFragments(len(padded), plaintextPerPacket)
	fragments := make([]*Fragment, 0, count)
	for i := 0; i < count; i++ {
		start := i * plaintextPerPacket
		end := start + plaintextPerPacket
		if end > len(padded) {
			end = len(padded)
		}
		fragments = append(fragments, &Fragment{
			SetID:   setID,
			Index:   uint8(i),
			Last:    i == count-1,
			Payload: padded[start:end],
		})
	}
	return fragments
}

// ErrIncompleteSet is returned by Reassemble when not every index up to
// the fragment marked Last has been supplied.
var ErrIncompleteSet = errors.New("chunking: fragment set is incomplete")

// Reassemble concatenates a complete fragment set, keyed by index, back
// into the original padded message bytes. fragments
// need not be supplied in order.
func Reassemble(fragments map[uint8]*Fragment) ([]byte, error) {
	var lastIndex uint8
	haveLast := false
	for idx, f := range fragments {
		if f.Last {
			lastIndex = idx
			haveLast = true
		}
	}
	if !haveLast {
		return nil, ErrIncompleteSet
	}
	total := int(lastIndex) + 1
	out := make([]byte, 0, total)
	for i := 0; i < total; i++ {
		f, ok := fragments[uint8(i)]
		if !ok {
			return nil, ErrIncompleteSet
		}
		out = append(out, f.Payload...)
	}
	return out, nil
}

// IsComplete reports whether fragments contains every index from 0 up to
// and including the fragment marked Last.
func IsComplete(fragments map[uint8]*Fragment) bool {
	var lastIndex uint8
	haveLast := false
	for idx, f := range fragments {
		if f.Last {
			lastIndex = idx
			haveLast = true
		}
	}
	if !haveLast {
		return false
	}
	for i := 0; i <= int(lastIndex); i++ {
		if _, ok := fragments[uint8(i)]; !ok {
			return false
		}
	}
	return true
}
