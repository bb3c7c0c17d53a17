// reply.go - SURB accounting and reply dispatch.
// Copyright (C) 2018  David Stainton.
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

// Package reply implements the Reply Controller: the sole spender of reply SURBs. It tracks a per-correspondent
// SURB pool, queues replies that cannot be satisfied immediately, and
// requests refills when the pool runs low.
package reply

import (
	"errors"
	"sync"

	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/metrics"
)

// ErrQueueFull is returned by SendReply/SendRetransmissionData when the
// backlog for a correspondent has reached the maxQueueDepth given to New.
var ErrQueueFull = errors.New("reply: backlog queue depth exceeded for correspondent")

// Sender is the capability the reply controller uses to actually put a
// packet on the wire once SURBs are available.
type Sender interface {
	// SendWithSurb transmits data using surb as the pre-built return
	// path, over lane.
	SendWithSurb(tag string, data []byte, surb []byte, lane string) error

	// SendSurbRequest asks tag's peer for amount additional SURBs,
	// itself consuming one SURB from the pool.
	SendSurbRequest(tag string, amount uint32, usingSurb []byte) error
}

type queuedReply struct {
	data              []byte
	lane              string
	maxRetransmissions int
	extraRequest      bool
}

// Controller is the Reply Controller.
type Controller struct {
	mu sync.Mutex

	sender Sender
	pools  map[string][][]byte
	queues map[string][]queuedReply

	maxQueueDepth int
}

// New constructs a Controller. maxQueueDepth bounds the per-correspondent
// backlog of replies awaiting SURBs.
func New(sender Sender, maxQueueDepth int) *Controller {
	if maxQueueDepth <= 0 {
		maxQueueDepth = 1024
	}
	return &Controller{
		sender:        sender,
		pools:         make(map[string][][]byte),
		queues:        make(map[string][]queuedReply),
		maxQueueDepth: maxQueueDepth,
	}
}

// PoolSize reports the number of unused SURBs held for tag.
func (c *Controller) PoolSize(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pools[tag])
}

// DepositSurbs adds freshly received SURBs to tag's pool, dropping any
// excess above MaxSURBThreshold to bound memory.
func (c *Controller) DepositSurbs(tag string, surbs [][]byte) {
	c.mu.Lock()
	pool := append(c.pools[tag], surbs...)
	if len(pool) > constants.MaxSURBThreshold {
		pool = pool[:constants.MaxSURBThreshold]
	}
	c.pools[tag] = pool
	c.mu.Unlock()
	metrics.ReplySurbPoolSize.WithLabelValues(tag).Set(float64(len(pool)))

	c.drainBacklog(tag)
}

// Snapshot returns a deep copy of every correspondent's current SURB pool,
// for the client to persist via the SURB store's crash-safe flush.
func (c *Controller) Snapshot() map[string][][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][][]byte, len(c.pools))
	for tag, pool := range c.pools {
		out[tag] = append([][]byte{}, pool...)
	}
	return out
}

// takeSurb pops one SURB from tag's pool, or reports false if empty.
// Caller must hold c.mu.
func (c *Controller) takeSurb(tag string) ([]byte, bool) {
	pool := c.pools[tag]
	if len(pool) == 0 {
		return nil, false
	}
	surb := pool[0]
	c.pools[tag] = pool[1:]
	return surb, true
}

// SendReply sends data to tag over lane when the pool holds at least
// fragmentCount SURBs; the data is handed to the Sender whole with a
// single SURB, so only one SURB is spent per reply, not one per fragment.
// If the pool holds fewer, the reply is queued and a SurbRequest is sent.
//
// fragmentCount is supplied by the caller (the preparer determines it
// from the packet size budget); this package only manages SURB
// accounting, not fragmentation itself.
func (c *Controller) SendReply(tag string, data []byte, lane string, fragmentCount int, maxRetransmissions int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pools[tag]) >= fragmentCount {
		surb, _ := c.takeSurb(tag)
		if err := c.sender.SendWithSurb(tag, data, surb, lane); err != nil {
			return err
		}
		if len(c.pools[tag]) < constants.MinSURBThreshold {
			c.requestRefillLocked(tag, constants.MinSURBThreshold)
		}
		return nil
	}

	return c.enqueueLocked(tag, queuedReply{data: data, lane: lane, maxRetransmissions: maxRetransmissions})
}

// SendRetransmissionData resends a previously anonymous fragment that
// timed out, optionally piggy-backing a SurbRequest in the same exchange.
func (c *Controller) SendRetransmissionData(tag string, data []byte, lane string, extraRequest bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	surb, ok := c.takeSurb(tag)
	if !ok {
		return c.enqueueLocked(tag, queuedReply{data: data, lane: lane, extraRequest: extraRequest})
	}
	if err := c.sender.SendWithSurb(tag, data, surb, lane); err != nil {
		return err
	}
	if extraRequest {
		c.requestRefillLocked(tag, constants.MinSURBThreshold)
	}
	return nil
}

func (c *Controller) enqueueLocked(tag string, item queuedReply) error {
	q := c.queues[tag]
	if len(q) >= c.maxQueueDepth {
		return ErrQueueFull
	}
	c.queues[tag] = append(q, item)
	metrics.ReplyQueueDepth.WithLabelValues(tag).Set(float64(len(c.queues[tag])))
	// Asking for more SURBs consumes one itself if available; if none
	// remain we simply wait for an unsolicited deposit.
	if surb, ok := c.takeSurb(tag); ok {
		_ = c.sender.SendSurbRequest(tag, uint32(c.maxQueueDepth), surb)
	}
	return nil
}

func (c *Controller) requestRefillLocked(tag string, amount uint32) {
	if surb, ok := c.takeSurb(tag); ok {
		_ = c.sender.SendSurbRequest(tag, amount, surb)
	}
}

// drainBacklog sends as many queued replies for tag as the current pool
// allows.
func (c *Controller) drainBacklog(tag string) {
	for {
		c.mu.Lock()
		q := c.queues[tag]
		if len(q) == 0 {
			c.mu.Unlock()
			return
		}
		surb, ok := c.takeSurb(tag)
		if !ok {
			c.mu.Unlock()
			return
		}
		item := q[0]
		c.queues[tag] = q[1:]
		sender := c.sender
		depth := len(c.queues[tag])
		c.mu.Unlock()
		metrics.ReplyQueueDepth.WithLabelValues(tag).Set(float64(depth))

		_ = sender.SendWithSurb(tag, item.data, surb, item.lane)
	}
}
