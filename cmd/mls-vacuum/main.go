// main.go - Scheduled expiry vacuum binary.
// Copyright (C) 2025  jab-r.
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

// mls-vacuum runs a single expiry vacuum pass over the extension's
// backing store and exits.  It is intended to be invoked from cron or a
// systemd timer against a relay whose in-process vacuum worker is
// disabled; the bolt store is single-writer, so the relay must not
// hold it open concurrently.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	mlsrelay "github.com/jab-r/nostr-mls-relay"
	"github.com/jab-r/nostr-mls-relay/config"
)

func main() {
	cfgFile := flag.String("f", "mlsrelay.toml", "Path to the relay config file.")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config file '%v': %v\n", *cfgFile, err)
		os.Exit(-1)
	}

	ext, err := mlsrelay.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(-1)
	}
	defer ext.Shutdown()

	credPurged, envPurged, err := ext.Vacuum().Once(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Vacuum pass failed: %v\n", err)
		os.Exit(-1)
	}
	fmt.Printf("Purged %d credentials, %d envelopes\n", credPurged, envPurged)
}
