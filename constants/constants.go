// constants.go - Nym client traffic core constants.
// Copyright (C) 2017  Yawning Angel.
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

// Package constants contains the protocol-wide constants for the traffic
// core: wire format sizes, thresholds and timing parameters shared across
// every traffic-core component.
package constants

import "time"

const (
	// FragmentSetIDLength is the width in bytes of the set_id half of a
	// fragment identifier.
	FragmentSetIDLength = 4

	// FragmentIndexLength is the width in bytes of the fragment_index half
	// of a fragment identifier.
	FragmentIndexLength = 1

	// MessageIDLength is the length in bytes of a NymMessage identifier.
	MessageIDLength = 16

	// SURBIDLength is the length in bytes of a SURB/sender-tag identifier.
	SURBIDLength = 16

	// HopsPerPath is the number of mix hops sampled per route (3 mixes
	// plus the entry/exit gateway are handled separately by the topology
	// accessor).
	HopsPerPath = 3

	// MaxRetransmissions is the default bound on retransmission attempts
	// for a pending acknowledgement.
	MaxRetransmissions = 5

	// AckWaitMultiplier scales avg_ack_delay when computing a
	// retransmission deadline.
	AckWaitMultiplier = 6

	// MinSURBThreshold is the per-tag pool size below which the reply
	// controller requests a refill.
	MinSURBThreshold = 10

	// MaxSURBThreshold is the per-tag pool size above which excess
	// delivered SURBs are dropped.
	MaxSURBThreshold = 100

	// SmallLaneSize is the queue-depth cutoff below which a lane is
	// preferred by the out-queue scheduler.
	SmallLaneSize = 100

	// OldestLaneSetSize is the number of oldest lanes considered in the
	// fallback scheduling step.
	OldestLaneSetSize = 4

	// OldLaneBiasNumerator/OldLaneBiasDenominator give the probability
	// that the scheduler prefers the oldest-lane set over a uniform pick
	//.
	OldLaneBiasNumerator   = 2
	OldLaneBiasDenominator = 3

	// StaleLaneAfter is how long a lane may sit idle before it is pruned
	//.
	StaleLaneAfter = 10 * time.Minute

	// MixTrafficMaxFailures is the count of consecutive gateway send
	// failures that triggers a reconnect request.
	MixTrafficMaxFailures = 100

	// GatewayChannelDepth is the bound on the gateway-bound batch channel
	//.
	GatewayChannelDepth = 32

	// RotationStuckSlopPercent is the fraction, expressed as a percentage over
	// 100, of an epoch's expected duration past which an un-advanced
	// on-chain epoch id is considered "stuck".
	RotationStuckSlopPercent = 20

	// RotationPreemptThreshold is how far in advance of a rotation
	// boundary the client starts negotiating the next key.
	RotationPreemptThreshold = 1 // in units of epoch_duration
)

// Message type tags, one byte prefix on the padded plaintext.
const (
	MessageTypePlain     byte = 0
	MessageTypeRepliable byte = 1
	MessageTypeReply     byte = 2
)

// PaddingTerminator is the byte appended after message content and before
// zero padding, used to recover the original length on reassembly.
const PaddingTerminator byte = 0x01

// CLI debug toggles. At most one of NoCover, FastMode and MediumToggle
// may be set.
type DebugMode struct {
	NoCover            bool
	FastMode           bool
	MediumToggle       bool
	DisablePoissonRate bool
	AnonymousReplies   bool
}

// Validate enforces the mutual exclusion rule across the first three
// toggles.
func (d DebugMode) Validate() error {
	set := 0
	if d.NoCover {
		set++
	}
	if d.FastMode {
		set++
	}
	if d.MediumToggle {
		set++
	}
	if set > 1 {
		return ErrTooManyDebugModes
	}
	return nil
}
