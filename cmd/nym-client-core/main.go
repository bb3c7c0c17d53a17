// main.go - thin CLI harness over the traffic core.
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

// Command nym-client-core loads a traffic core configuration, applies the
// CLI debug overrides, and starts logging, the way the teacher's own
// main.go parses -config/-log_level before handing off to its client
// daemon. It stops short of dialing a gateway or fetching topology: the
// Sphinx primitive, the gateway transceiver and the topology fetcher are
// out of this module's scope (spec §1) and are supplied by the binary
// that embeds this core via client.Deps.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/katzenpost/core/log"

	"github.com/nymtech/nym-sub018/config"
)

func main() {
	var configFilePath string
	var noCover bool
	var fastmode bool
	var mediumToggle bool

	flag.StringVar(&configFilePath, "config", "", "traffic core configuration file")
	flag.BoolVar(&noCover, "no_cover", false, "disable Poisson cover traffic (testing only)")
	flag.BoolVar(&fastmode, "fastmode", false, "recorded in the config only; no traffic core component reads it (testing only)")
	flag.BoolVar(&mediumToggle, "medium_toggle", false, "send every packet in the extended size; cover timing is unchanged")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "nym-client-core: -config is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.FromFile(configFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nym-client-core: %v\n", err)
		os.Exit(1)
	}

	cfg.Debug.NoCover = cfg.Debug.NoCover || noCover
	cfg.Debug.FastMode = cfg.Debug.FastMode || fastmode
	cfg.Debug.MediumToggle = cfg.Debug.MediumToggle || mediumToggle
	if err := cfg.Debug.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "nym-client-core: %v\n", err)
		os.Exit(1)
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nym-client-core: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := logBackend.GetLogger("nym-client-core")
	logger.Noticef("loaded configuration for gateway %s, no_cover=%v fastmode=%v medium_toggle=%v",
		cfg.Client.Gateway, cfg.Debug.NoCover, cfg.Debug.FastMode, cfg.Debug.MediumToggle)
	logger.Notice("traffic core ready; awaiting client.Deps from the embedding binary (Sphinx, gateway transceiver, topology fetcher)")
}
