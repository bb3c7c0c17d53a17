// setid.go - monotonic fragment set id generator.
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
	"sync/atomic"

	coreRand "github.com/katzenpost/core/crypto/rand"
)

// SetIDGenerator draws fragment-set identifiers that are unique within a
// reasonable window: a random 32-bit starting point, incremented
// atomically for every message split thereafter. Two sets colliding would
// require wrapping all the way around int32 while earlier sets are still
// in flight, which the ack controller's bounded retransmission lifetime
// makes implausible.
type SetIDGenerator struct {
	next int32
}

// NewSetIDGenerator seeds a generator from the crypto RNG.
func NewSetIDGenerator() *SetIDGenerator {
	var buf [4]byte
	if _, err := coreRand.Reader.Read(buf[:]); err != nil {
		panic(err)
	}
	seed := int32(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	return &SetIDGenerator{next: seed}
}

// Next returns the next fragment-set id.
func (g *SetIDGenerator) Next() int32 {
	return atomic.AddInt32(&g.next, 1)
}
