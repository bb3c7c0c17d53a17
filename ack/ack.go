// ack.go - acknowledgement controller for in-flight fragments.
// Copyright (C) 2018  masala, David Stainton.
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

// Package ack implements the Acknowledgement Controller: an indexed set of pending acks keyed by fragment id, a
// per-entry retransmission timer, and an action queue serialising
// Insert/StartTimer/UpdatePending/Remove so the timer-fire/update
// interleaving described in §4.4 is explicit and testable.
package ack

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/katzenpost/core/queue"
	"github.com/katzenpost/core/worker"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/metrics"
)

// PacketDestination is the KnownRecipient | Anonymous sum type a pending
// ack is addressed to.
type PacketDestination struct {
	// Known is set for a directly addressed recipient.
	Known bool

	// SenderTag/ExtraSurbRequest are populated when !Known: the fragment
	// was sent anonymously via a reply SURB and must be retransmitted
	// through the reply controller, not this one.
	SenderTag        string
	ExtraSurbRequest bool
}

// PendingAck is one in-flight fragment awaiting acknowledgement.
type PendingAck struct {
	ID                  chunking.FragmentIdentifier
	Chunk               *chunking.Fragment
	Destination         PacketDestination
	RetransmissionCount int
	SentAt              time.Time
	TotalDelay          time.Duration

	removed bool
}

// Retransmitter re-prepares and resends a fragment on timer fire,
// returning the new total delay the retransmitted packet will
// experience.
type Retransmitter interface {
	Retransmit(ack *PendingAck) (newTotalDelay time.Duration, err error)
}

// action is the serialized mutation applied to the controller's state.
type action struct {
	kind     actionKind
	id       chunking.FragmentIdentifier
	entry    *PendingAck
	newDelay time.Duration
}

type actionKind int

const (
	actionInsert actionKind = iota
	actionStartTimer
	actionUpdatePending
	actionRemove
)

// Controller is the Acknowledgement Controller.
type Controller struct {
	worker.Worker

	mu      sync.Mutex
	pending map[chunking.FragmentIdentifier]*PendingAck
	priq    *queue.PriorityQueue

	actions chan action
	clock   clockwork.Clock

	retransmitter   Retransmitter
	maxRetransmits  int
	ackWaitMultiplier time.Duration
	avgAckDelay       time.Duration

	onGiveUp func(*PendingAck)
}

// New constructs a Controller. avgAckDelay is the expected round-trip
// time for a SURB-ack; onGiveUp is called when an entry exceeds
// maxRetransmits and is removed.
func New(retransmitter Retransmitter, avgAckDelay time.Duration, onGiveUp func(*PendingAck)) *Controller {
	c := &Controller{
		pending:           make(map[chunking.FragmentIdentifier]*PendingAck),
		priq:              queue.New(),
		actions:           make(chan action, 256),
		clock:             clockwork.NewRealClock(),
		retransmitter:     retransmitter,
		maxRetransmits:    constants.MaxRetransmissions,
		ackWaitMultiplier: constants.AckWaitMultiplier,
		avgAckDelay:       avgAckDelay,
		onGiveUp:          onGiveUp,
	}
	c.Go(c.worker)
	return c
}

func (c *Controller) deadline(sentAt time.Time, totalDelay time.Duration) time.Time {
	return sentAt.Add(totalDelay).Add(c.ackWaitMultiplier * c.avgAckDelay)
}

// Insert registers a newly sent fragment as pending, queueing an Insert
// action.
func (c *Controller) Insert(entry *PendingAck) {
	c.actions <- action{kind: actionInsert, id: entry.ID, entry: entry}
}

// StartTimer (re)arms the retransmission timer for id against its
// currently recorded SentAt/TotalDelay.
func (c *Controller) StartTimer(id chunking.FragmentIdentifier) {
	c.actions <- action{kind: actionStartTimer, id: id}
}

// UpdatePending records a freshly computed total delay for id, ahead of
// a subsequent StartTimer.
func (c *Controller) UpdatePending(id chunking.FragmentIdentifier, newDelay time.Duration) {
	c.actions <- action{kind: actionUpdatePending, id: id, newDelay: newDelay}
}

// Remove drops id from the pending set, e.g. on ack receipt.
func (c *Controller) Remove(id chunking.FragmentIdentifier) {
	c.actions <- action{kind: actionRemove, id: id}
}

// Pending reports whether id is currently tracked, for tests.
func (c *Controller) Pending(id chunking.FragmentIdentifier) (*PendingAck, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[id]
	return e, ok
}

func (c *Controller) worker() {
	for {
		var timerCh <-chan time.Time
		c.mu.Lock()
		if top := c.priq.Peek(); top != nil {
			deadline := time.Unix(0, int64(top.Priority))
			timerCh = c.clock.After(deadline.Sub(c.clock.Now()))
		}
		c.mu.Unlock()

		select {
		case <-c.HaltCh():
			return
		case a := <-c.actions:
			c.apply(a)
		case <-timerCh:
			c.fireExpired()
		}
	}
}

func (c *Controller) apply(a action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch a.kind {
	case actionInsert:
		c.pending[a.id] = a.entry
	case actionUpdatePending:
		if e, ok := c.pending[a.id]; ok {
			e.TotalDelay = a.newDelay
		}
	case actionStartTimer:
		e, ok := c.pending[a.id]
		if !ok || e.removed {
			return
		}
		deadline := c.deadline(e.SentAt, e.TotalDelay)
		c.priq.Enqueue(uint64(deadline.UnixNano()), a.id)
	case actionRemove:
		if e, ok := c.pending[a.id]; ok {
			e.removed = true
			delete(c.pending, a.id)
		}
		c.priq.FilterOnce(matchesID(a.id))
	}
}

func matchesID(id chunking.FragmentIdentifier) func(interface{}) bool {
	return func(v interface{}) bool {
		other, ok := v.(chunking.FragmentIdentifier)
		return ok && other == id
	}
}

// fireExpired pops the earliest-deadline entry and runs the retransmit
// decision.
func (c *Controller) fireExpired() {
	c.mu.Lock()
	top := c.priq.Pop()
	if top == nil {
		c.mu.Unlock()
		return
	}
	id := top.Value.(chunking.FragmentIdentifier)
	entry, ok := c.pending[id]
	c.mu.Unlock()

	if !ok || entry.removed {
		// Ack-raced: already removed, nothing to do.
		return
	}

	if entry.RetransmissionCount >= c.maxRetransmits {
		c.Remove(id)
		metrics.AckGiveUps.Inc()
		if c.onGiveUp != nil {
			c.onGiveUp(entry)
		}
		return
	}

	newDelay, err := c.retransmitter.Retransmit(entry)
	if err != nil {
		// Failure model: restart the timer rather than leak the entry.
		c.StartTimer(id)
		return
	}
	metrics.Retransmissions.Inc()

	c.mu.Lock()
	entry.RetransmissionCount++
	entry.SentAt = c.clock.Now()
	c.mu.Unlock()

	c.UpdatePending(id, newDelay)
	c.StartTimer(id)
}
