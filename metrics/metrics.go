// metrics.go - Prometheus instrumentation for the traffic core.
// Copyright (C) 2018  Yawning Angel.
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

// Package metrics holds the Prometheus collectors shared across the
// traffic core's components, and the one-time registration call that
// wires them into the default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "nym_client_core"

var (
	// PacketsSent counts real and cover packets handed to the mix
	// traffic controller, labelled by kind ("real"/"cover").
	PacketsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outqueue",
			Name:      "packets_sent_total",
			Help:      "Packets released by the out-queue controller.",
		},
		[]string{"kind"},
	)

	// GatewaySendFailures counts consecutive-failure increments observed
	// by the mix traffic controller.
	GatewaySendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mixtraffic",
			Name:      "gateway_send_failures_total",
			Help:      "Failed sends to the entry gateway.",
		},
	)

	// GatewayDeadEvents counts the number of times the consecutive
	// failure count reached MixTrafficMaxFailures.
	GatewayDeadEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mixtraffic",
			Name:      "gateway_dead_total",
			Help:      "Times the gateway was assumed dead and a reconnect was requested.",
		},
	)

	// Retransmissions counts fragments retransmitted by the
	// acknowledgement controller.
	Retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ack",
			Name:      "retransmissions_total",
			Help:      "Fragments retransmitted after an ack timeout.",
		},
	)

	// AckGiveUps counts fragments abandoned after exceeding the
	// retransmission bound.
	AckGiveUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ack",
			Name:      "give_ups_total",
			Help:      "Fragments abandoned after exceeding the retransmission bound.",
		},
	)

	// ReplySurbPoolSize reports the live reply-SURB pool size per
	// correspondent tag.
	ReplySurbPoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "surb_pool_size",
			Help:      "Unused reply SURBs held for a correspondent.",
		},
		[]string{"tag"},
	)

	// ReplyQueueDepth reports the per-correspondent backlog of replies
	// awaiting a SURB.
	ReplyQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "queue_depth",
			Help:      "Replies queued awaiting a SURB.",
		},
		[]string{"tag"},
	)

	// LaneCount reports the number of populated transmission lanes.
	LaneCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transmission",
			Name:      "lane_count",
			Help:      "Currently populated transmission lanes.",
		},
	)

	// StaleLanesPruned counts lanes dropped for inactivity.
	StaleLanesPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transmission",
			Name:      "stale_lanes_pruned_total",
			Help:      "Lanes dropped for exceeding the stale-connection threshold.",
		},
	)

	// KeyRotations counts gateway key rotation boundary crossings.
	KeyRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "rotations_total",
			Help:      "Gateway key rotation boundaries crossed.",
		},
	)
)

// Register adds every collector in this package to reg. Call once at
// startup; tests that construct components directly need not call it.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		PacketsSent,
		GatewaySendFailures,
		GatewayDeadEvents,
		Retransmissions,
		AckGiveUps,
		ReplySurbPoolSize,
		ReplyQueueDepth,
		LaneCount,
		StaleLanesPruned,
		KeyRotations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
