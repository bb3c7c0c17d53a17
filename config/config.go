// config.go - traffic core configuration.
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

// Package config loads and validates the traffic core's TOML
// configuration: the client's identity and gateway, the on-chain
// topology/epoch endpoints, the debug timing toggles, and logging.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/BurntSushi/toml"
	"github.com/nymtech/nym-sub018/constants"
)

// Logging configures the leveled logging backend shared by every
// component.
type Logging struct {
	Disable bool
	File    string
	Level   string
}

// Debug carries the CLI-surfaced timing/behavior toggles, reusing the
// traffic core's own mutual-exclusion rule.
type Debug = constants.DebugMode

// Client carries this client's own identity and timing parameters.
type Client struct {
	// Gateway is the name of the pinned entry/exit gateway.
	Gateway string

	// StorageDir holds the identity key vault and the reply-SURB store.
	StorageDir string

	// AvgSendingDelaySeconds is the out-queue controller's mean Poisson
	// inter-tick interval.
	AvgSendingDelaySeconds float64

	// AvgPacketDelaySeconds is the mean per-hop Sphinx delay.
	AvgPacketDelaySeconds float64

	// AvgAckDelaySeconds estimates the round-trip time a SURB-ack takes,
	// feeding the acknowledgement controller's timeout multiplier.
	AvgAckDelaySeconds float64
}

// AvgSendingDelay returns Client.AvgSendingDelaySeconds as a Duration.
func (c Client) AvgSendingDelay() time.Duration {
	return time.Duration(c.AvgSendingDelaySeconds * float64(time.Second))
}

// AvgPacketDelay returns Client.AvgPacketDelaySeconds as a Duration.
func (c Client) AvgPacketDelay() time.Duration {
	return time.Duration(c.AvgPacketDelaySeconds * float64(time.Second))
}

// AvgAckDelay returns Client.AvgAckDelaySeconds as a Duration.
func (c Client) AvgAckDelay() time.Duration {
	return time.Duration(c.AvgAckDelaySeconds * float64(time.Second))
}

// Topology configures where the current routing topology and on-chain
// epoch clock are fetched from.
type Topology struct {
	// ValidatorEndpoint is the chain RPC endpoint consulted for the
	// rewarded-set topology and the current epoch id.
	ValidatorEndpoint string

	// Hops is the number of mix layers a sampled route passes through,
	// not counting the entry/exit gateway.
	Hops int

	// EpochDurationSeconds/ValidityEpochs parameterise gateway key
	// rotation.
	EpochDurationSeconds float64
	ValidityEpochs       uint64
}

// EpochDuration returns Topology.EpochDurationSeconds as a Duration.
func (t Topology) EpochDuration() time.Duration {
	return time.Duration(t.EpochDurationSeconds * float64(time.Second))
}

// Config is the top-level traffic core configuration.
type Config struct {
	Logging  Logging
	Debug    Debug
	Client   Client
	Topology Topology
}

// FromFile parses and validates a Config from a TOML file.
func FromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Debug.Validate(); err != nil {
		return nil, err
	}
	if cfg.Client.Gateway == "" {
		return nil, fmt.Errorf("config: client.gateway must be set")
	}
	return cfg, nil
}
