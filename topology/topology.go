// topology.go - cached mix network topology and route sampling.
// Copyright (C) 2017  David Anthony Stainton
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

// Package topology implements the Topology Accessor:
// a cached view of the directory authority's published topology, and
// random_route_to_gateway sampling over it. Route selection here follows
// the Panoramix path selection algorithm: one mix sampled uniformly per
// layer, with the recipient's gateway as the fixed last hop. The sender's
// own gateway is not part of the sampled route.
package topology

import (
	"errors"
	mathrand "math/rand"
	"net"
	"sync"

	"github.com/katzenpost/core/crypto/ecdh"
	"github.com/nymtech/nym-sub018/constants"
)

// ErrNoValidTopology is returned when a route cannot be sampled because
// the cache lacks mixes in a required layer or a gateway is unknown.
var ErrNoValidTopology = errors.New("topology: no valid path exists through the cached topology")

// MixDescriptor is the subset of a directory-authority-published node
// descriptor the traffic core cares about.
type MixDescriptor struct {
	ID        [32]byte
	Layer     uint8
	Name      string
	Address   *net.TCPAddr
	PublicKey *ecdh.PublicKey
}

// Fetcher is the interface this package consumes to refresh its cache. A
// production build wires it to the directory authority client; tests wire
// it to a fixture.
type Fetcher interface {
	// FetchTopology returns the current set of mix descriptors, grouped
	// by layer, plus the gateway (provider) descriptors keyed by name.
	FetchTopology() (layers [][]*MixDescriptor, gateways map[string]*MixDescriptor, err error)
}

// Topology is the Topology Accessor. It caches the most recently fetched
// view and allows tests to pin a fixed view via SetManual.
type Topology struct {
	sync.RWMutex

	fetcher Fetcher
	hops    int

	layers   [][]*MixDescriptor
	gateways map[string]*MixDescriptor
	pinned   bool
}

// New constructs a Topology Accessor that samples hops-per-route mixes
// and refreshes itself from fetcher.
func New(fetcher Fetcher, hops int) *Topology {
	if hops <= 0 {
		hops = constants.HopsPerPath
	}
	return &Topology{fetcher: fetcher, hops: hops}
}

// Refresh re-fetches topology from the directory authority and replaces
// the cache, unless a manual override is pinned.
func (t *Topology) Refresh() error {
	t.Lock()
	pinned := t.pinned
	t.Unlock()
	if pinned {
		return nil
	}

	layers, gateways, err := t.fetcher.FetchTopology()
	if err != nil {
		return err
	}

	t.Lock()
	t.layers = layers
	t.gateways = gateways
	t.Unlock()
	return nil
}

// SetManual pins a fixed topology view, bypassing Refresh, so tests get
// deterministic route sampling.
func (t *Topology) SetManual(layers [][]*MixDescriptor, gateways map[string]*MixDescriptor) {
	t.Lock()
	defer t.Unlock()
	t.layers = layers
	t.gateways = gateways
	t.pinned = true
}

// RandomRouteToGateway samples a full route of t.hops mixes, one per
// layer chosen uniformly at random, followed by exitGateway as the final
// hop.
func (t *Topology) RandomRouteToGateway(exitGateway string) ([]*MixDescriptor, error) {
	t.RLock()
	defer t.RUnlock()

	gw, ok := t.gateways[exitGateway]
	if !ok {
		return nil, ErrNoValidTopology
	}
	if len(t.layers) < t.hops {
		return nil, ErrNoValidTopology
	}

	route := make([]*MixDescriptor, t.hops+1)
	for i := 0; i < t.hops; i++ {
		layer := t.layers[i]
		if len(layer) == 0 {
			return nil, ErrNoValidTopology
		}
		route[i] = layer[mathrand.Intn(len(layer))]
	}
	route[t.hops] = gw
	return route, nil
}

// Gateway looks up a single gateway descriptor by name.
func (t *Topology) Gateway(name string) (*MixDescriptor, bool) {
	t.RLock()
	defer t.RUnlock()
	gw, ok := t.gateways[name]
	return gw, ok
}
