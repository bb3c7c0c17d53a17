// outqueue.go - Poisson-paced release of real and cover traffic.
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

// Package outqueue implements the Out-Queue Controller: it releases exactly one packet per Poisson tick,
// regardless of whether a real packet is ready, so emission rate never
// correlates with application activity. A cover packet is built only
// when no real packet is waiting at the tick, so a sustained stream of
// real packets leaves no room for cover.
package outqueue

import (
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/katzenpost/core/crypto/rand"
	"github.com/katzenpost/core/worker"
	"github.com/nymtech/nym-sub018/chunking"
	"github.com/nymtech/nym-sub018/metrics"
	"github.com/nymtech/nym-sub018/sphinxwire"
)

// RealMessage is a packet already prepared and waiting for its turn on
// the wire.
type RealMessage struct {
	Packet     *sphinxwire.MixPacket
	FragmentID chunking.FragmentIdentifier
}

// CoverBuilder synthesises a loop cover packet: a Sphinx packet addressed
// to self carrying an empty payload, sampled fresh for each tick.
type CoverBuilder interface {
	BuildCover() (*sphinxwire.MixPacket, error)
}

// Sink is where the out-queue controller hands finished packets, for the
// mix traffic controller to actually transmit.
type Sink interface {
	Enqueue(packet *sphinxwire.MixPacket)
}

// SentNotifier is told about every real message released, so the
// acknowledgement controller can start its retransmission timer.
type SentNotifier interface {
	NotifySent(fragmentID chunking.FragmentIdentifier)
}

// Controller is the Out-Queue Controller.
type Controller struct {
	worker.Worker

	avgSendingDelay time.Duration
	cover           CoverBuilder
	sink            Sink
	notifier        SentNotifier
	real            chan RealMessage
	clock           clockwork.Clock

	// NoCover disables the Poisson process and releases real packets
	// immediately.
	NoCover bool
}

// New constructs a Controller. avgSendingDelay is the mean inter-tick
// interval.
func New(avgSendingDelay time.Duration, cover CoverBuilder, sink Sink, notifier SentNotifier) *Controller {
	c := &Controller{
		avgSendingDelay: avgSendingDelay,
		cover:           cover,
		sink:            sink,
		notifier:        notifier,
		real:            make(chan RealMessage, 1024),
		clock:           clockwork.NewRealClock(),
	}
	c.Go(c.loop)
	return c
}

// Submit files a prepared real packet for release on a future tick.
func (c *Controller) Submit(msg RealMessage) {
	c.real <- msg
}

func (c *Controller) nextInterval() time.Duration {
	src := rand.NewMath()
	lambda := 1.0 / c.avgSendingDelay.Seconds()
	seconds := rand.Exp(src, lambda)
	return time.Duration(seconds * float64(time.Second))
}

func (c *Controller) loop() {
	deadline := c.clock.Now().Add(c.nextInterval())

	for {
		if c.NoCover {
			select {
			case <-c.HaltCh():
				return
			case msg := <-c.real:
				c.emitReal(msg)
			}
			continue
		}

		select {
		case <-c.HaltCh():
			return
		case <-c.clock.After(deadline.Sub(c.clock.Now())):
		}
		deadline = deadline.Add(c.nextInterval())

		select {
		case msg := <-c.real:
			c.emitReal(msg)
		default:
			c.emitCover()
		}

		// Mandatory: without yielding here, a sustained real-traffic
		// rate means the real-message channel is never observed empty
		// and cover traffic never runs.
		runtime.Gosched()
	}
}

func (c *Controller) emitReal(msg RealMessage) {
	if c.notifier != nil {
		c.notifier.NotifySent(msg.FragmentID)
	}
	metrics.PacketsSent.WithLabelValues("real").Inc()
	c.sink.Enqueue(msg.Packet)
}

func (c *Controller) emitCover() {
	packet, err := c.cover.BuildCover()
	if err != nil {
		return
	}
	metrics.PacketsSent.WithLabelValues("cover").Inc()
	c.sink.Enqueue(packet)
}
