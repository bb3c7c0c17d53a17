// mixtraffic.go - gateway-facing send loop with failure tracking.
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

// Package mixtraffic implements the Mix Traffic Controller: it drains batches of prepared packets and forwards them
// to the entry gateway, counting consecutive failures and requesting a
// reconnect once MixTrafficMaxFailures is reached.
package mixtraffic

import (
	"sync/atomic"

	"github.com/katzenpost/core/worker"
	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/metrics"
	"github.com/nymtech/nym-sub018/sphinxwire"
)

// GatewayTransceiver is the capability this controller drives: the
// actual socket to the entry gateway.
type GatewayTransceiver interface {
	SendMixPacket(packet *sphinxwire.MixPacket) error
	BatchSendMixPackets(packets []*sphinxwire.MixPacket) error
}

// Controller is the Mix Traffic Controller.
type Controller struct {
	worker.Worker

	transceiver GatewayTransceiver
	batches     chan []*sphinxwire.MixPacket

	consecutiveFailures int32

	onDead func()
}

// New constructs a Controller. onDead is invoked each time a run of
// consecutive failures reaches MixTrafficMaxFailures; any success resets
// the run.
func New(transceiver GatewayTransceiver, onDead func()) *Controller {
	c := &Controller{
		transceiver: transceiver,
		batches:     make(chan []*sphinxwire.MixPacket, constants.GatewayChannelDepth),
		onDead:      onDead,
	}
	c.Go(c.run)
	return c
}

// Enqueue files a single packet for transmission.
func (c *Controller) Enqueue(packet *sphinxwire.MixPacket) {
	c.batches <- []*sphinxwire.MixPacket{packet}
}

// EnqueueBatch files a batch of packets to be sent together.
func (c *Controller) EnqueueBatch(packets []*sphinxwire.MixPacket) {
	c.batches <- packets
}

// ConsecutiveFailures reports the current run of consecutive gateway
// send failures.
func (c *Controller) ConsecutiveFailures() int {
	return int(atomic.LoadInt32(&c.consecutiveFailures))
}

func (c *Controller) run() {
	for {
		select {
		case <-c.HaltCh():
			return
		case batch := <-c.batches:
			c.onMessages(batch)
		}
	}
}

func (c *Controller) onMessages(packets []*sphinxwire.MixPacket) {
	if len(packets) == 0 {
		return
	}

	var err error
	if len(packets) == 1 {
		err = c.transceiver.SendMixPacket(packets[0])
	} else {
		err = c.transceiver.BatchSendMixPackets(packets)
	}

	if err != nil {
		metrics.GatewaySendFailures.Inc()
		n := atomic.AddInt32(&c.consecutiveFailures, 1)
		if int(n) == constants.MixTrafficMaxFailures {
			metrics.GatewayDeadEvents.Inc()
			if c.onDead != nil {
				c.onDead()
			}
		}
		return
	}
	atomic.StoreInt32(&c.consecutiveFailures, 0)
}
