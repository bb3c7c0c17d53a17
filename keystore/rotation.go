// rotation.go - gateway key rotation scheduling.
// Copyright (C) 2017  David Stainton.
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

// Package keystore holds the client's long-term keypair and the gateway
// key rotation schedule derived from the on-chain epoch clock.
package keystore

import (
	"sync"
	"time"

	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/metrics"
)

// RotationState is the epoch-indexed gateway key rotation schedule. The current rotation is deterministically derivable from the
// current epoch id: rotation_id = epoch_id / validity_epochs.
type RotationState struct {
	sync.RWMutex

	currentRotationID      uint32
	nextRotationStartEpoch uint64
	epochDuration          time.Duration
	validityEpochs         uint64

	// lastObservedEpoch/lastObservedAt back the "stuck" detector: they
	// record the most recent on-chain epoch id we saw and when we saw
	// it, so we can tell whether the expected epoch boundary has slipped
	// without the chain actually advancing.
	lastObservedEpoch uint64
	lastObservedAt    time.Time
}

// NewRotationState seeds rotation state from the current on-chain epoch.
func NewRotationState(currentEpoch uint64, epochDuration time.Duration, validityEpochs uint64, now time.Time) *RotationState {
	rs := &RotationState{
		epochDuration:     epochDuration,
		validityEpochs:    validityEpochs,
		lastObservedEpoch: currentEpoch,
		lastObservedAt:    now,
	}
	rs.currentRotationID = rotationIDFor(currentEpoch, validityEpochs)
	rs.nextRotationStartEpoch = (uint64(rs.currentRotationID) + 1) * validityEpochs
	return rs
}

func rotationIDFor(epochID, validityEpochs uint64) uint32 {
	return uint32(epochID / validityEpochs)
}

// CurrentRotationID returns the rotation id currently in effect.
func (rs *RotationState) CurrentRotationID() uint32 {
	rs.RLock()
	defer rs.RUnlock()
	return rs.currentRotationID
}

// UntilNextRotation returns the epoch-duration-scaled time remaining
// before the next rotation boundary, given the current epoch's elapsed
// time within itself.
func (rs *RotationState) UntilNextRotation(currentEpoch uint64, elapsedInEpoch time.Duration) time.Duration {
	rs.RLock()
	defer rs.RUnlock()

	epochsRemaining := int64(rs.nextRotationStartEpoch) - int64(currentEpoch)
	if epochsRemaining <= 0 {
		return 0
	}
	return time.Duration(epochsRemaining)*rs.epochDuration - elapsedInEpoch
}

// ShouldPreemptivelyNegotiate reports whether the client is close enough
// to the rotation boundary that it should start negotiating the next key
// now, so that no packet is sent under an expiring rotation close to its
// deadline.
func (rs *RotationState) ShouldPreemptivelyNegotiate(currentEpoch uint64, elapsedInEpoch time.Duration) bool {
	rs.RLock()
	threshold := time.Duration(constants.RotationPreemptThreshold) * rs.epochDuration
	rs.RUnlock()
	return rs.UntilNextRotation(currentEpoch, elapsedInEpoch) <= threshold
}

// Observe records a freshly observed on-chain epoch id, advancing the
// rotation schedule when it crosses a boundary, and corrects local state
// when the chain's rotation id diverges from what was locally expected.
func (rs *RotationState) Observe(epochID uint64, now time.Time) {
	rs.Lock()
	defer rs.Unlock()

	rs.lastObservedEpoch = epochID
	rs.lastObservedAt = now

	chainRotationID := rotationIDFor(epochID, rs.validityEpochs)
	if chainRotationID != rs.currentRotationID {
		rs.currentRotationID = chainRotationID
		rs.nextRotationStartEpoch = (uint64(chainRotationID) + 1) * rs.validityEpochs
		metrics.KeyRotations.Inc()
	}
}

// IsStuck reports whether the wall clock has advanced more than
// RotationStuckSlopPercent past the expected end of lastObservedEpoch
// without a fresher on-chain epoch id having been observed. While stuck,
// the client must refrain from rotating until the chain catches up.
func (rs *RotationState) IsStuck(now time.Time) bool {
	rs.RLock()
	defer rs.RUnlock()

	expectedEnd := rs.lastObservedAt.Add(rs.epochDuration)
	slop := rs.epochDuration * time.Duration(constants.RotationStuckSlopPercent) / 100
	return now.After(expectedEnd.Add(slop))
}
