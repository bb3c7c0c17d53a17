// chunking_test.go - fragment split/reassemble tests.
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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	require := require.New(t)

	msg := bytes.Repeat([]byte("nym"), 500) // 1500 bytes
	const perPacket = 200

	count, spaceLeft := NumberOfRequiredFragments(len(msg), perPacket)
	padded := append(append([]byte{}, msg...), make([]byte, spaceLeft)...)
	require.Equal(count*perPacket, len(padded))

	fragments := SplitIntoFragments(7, padded, perPacket)
	require.Len(fragments, count)

	byIndex := make(map[uint8]*Fragment, len(fragments))
	for _, f := range fragments {
		require.Equal(int32(7), f.SetID)
		byIndex[f.Index] = f
	}
	require.True(IsComplete(byIndex))

	got, err := Reassemble(byIndex)
	require.NoError(err)
	require.Equal(padded, got)
}

func TestReassembleIncompleteSet(t *testing.T) {
	msg := bytes.Repeat([]byte("x"), 500)
	count, spaceLeft := NumberOfRequiredFragments(len(msg), 200)
	require.Greater(t, count, 1)
	padded := append(append([]byte{}, msg...), make([]byte, spaceLeft)...)
	fragments := SplitIntoFragments(1, padded, 200)

	byIndex := map[uint8]*Fragment{fragments[0].Index: fragments[0]}
	// last fragment missing: incomplete
	require.False(t, IsComplete(byIndex))
	_, err := Reassemble(byIndex)
	require.Equal(t, ErrIncompleteSet, err)
}

func TestFragmentWireRoundTrip(t *testing.T) {
	require := require.New(t)
	f := &Fragment{SetID: -42, Index: 3, Last: true, Payload: []byte("hello")}
	raw := f.Bytes()

	got, err := FromBytes(raw)
	require.NoError(err)
	require.Equal(f.SetID, got.SetID)
	require.Equal(f.Index, got.Index)
	require.Equal(f.Last, got.Last)
	require.Equal(f.Payload, got.Payload)
}

func TestFragmentIdentifierOrdering(t *testing.T) {
	require := require.New(t)
	a := FragmentIdentifier{SetID: 1, Index: 5}
	b := FragmentIdentifier{SetID: 2, Index: 0}
	c := FragmentIdentifier{SetID: 1, Index: 6}

	require.True(a.Less(b))
	require.True(a.Less(c))
	require.False(b.Less(a))
}

func TestSetIDGeneratorProducesDistinctIDs(t *testing.T) {
	g := NewSetIDGenerator()
	seen := make(map[int32]bool)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.False(t, seen[id])
		seen[id] = true
	}
}
