// main.go - MLS/Noise relay binary.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/fiatjaf/khatru"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"

	mlsrelay "github.com/jab-r/nostr-mls-relay"
	"github.com/jab-r/nostr-mls-relay/config"
	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/membership"
)

// decisionCacheSize bounds the recent recipient-set table consulted on
// the broadcast path.  Entries are only needed for the instant between
// acceptance and fan-out.
const decisionCacheSize = 4096

func selectiveKind(kind int) bool {
	switch kind {
	case constants.KindGroupMessage, constants.KindNoiseDM, constants.KindGiftwrap:
		return true
	default:
		return false
	}
}

// deliverTo reports whether an accepted event may be fanned out to a
// connection authenticated as pubkey.
func deliverTo(recipients *lru.Cache[string, map[string]bool], ev *nostr.Event, pubkey string) bool {
	set, ok := recipients.Get(ev.ID)
	if !ok {
		// A miss means the entry was evicted or predates a restart.
		// Selectively delivered kinds are withheld, never leaked.
		return !selectiveKind(ev.Kind)
	}
	return set[pubkey]
}

// restrictFilter gates read access to the selectively delivered kinds:
// AUTH is required, giftwraps and DMs may only be queried by their
// addressee, and group traffic only by a current group member.
func restrictFilter(reg membership.Registry, authed string, filter nostr.Filter) (bool, string) {
	wantsSelective, wantsGroup := false, false
	for _, kind := range filter.Kinds {
		if selectiveKind(kind) {
			wantsSelective = true
		}
		if kind == constants.KindGroupMessage {
			wantsGroup = true
		}
	}
	if !wantsSelective {
		return false, ""
	}
	if authed == "" {
		return true, "auth-required: encrypted kinds require AUTH"
	}
	for _, p := range filter.Tags["p"] {
		if p != authed {
			return true, "restricted: may only query your own envelopes"
		}
	}
	if wantsGroup {
		groups := filter.Tags["h"]
		if len(groups) == 0 {
			return true, "restricted: group queries must name their groups"
		}
		for _, groupID := range groups {
			members, err := reg.Members(groupID)
			if err != nil {
				return true, "restricted: not a member of the requested group"
			}
			member := false
			for _, m := range members {
				if m == authed {
					member = true
					break
				}
			}
			if !member {
				return true, "restricted: not a member of the requested group"
			}
		}
	}
	return false, ""
}

func main() {
	cfgFile := flag.String("f", "mlsrelay.toml", "Path to the relay config file.")
	flag.Parse()

	syscall.Umask(0077)

	cfg, err := config.LoadFile(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config file '%v': %v\n", *cfgFile, err)
		os.Exit(-1)
	}

	ext, err := mlsrelay.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to spawn extension instance: %v\n", err)
		os.Exit(-1)
	}
	defer ext.Shutdown()

	ext.Vacuum().StartWorker(time.Duration(cfg.Cleanup.IntervalSeconds) * time.Second)

	// Recent recipient sets, keyed by event id, consulted when fanning
	// accepted events out to live subscriptions.
	recipients, err := lru.New[string, map[string]bool](decisionCacheSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create decision cache: %v\n", err)
		os.Exit(-1)
	}

	relay := khatru.NewRelay()
	relay.Info.Name = cfg.Server.Identifier
	relay.Info.Description = "Nostr relay with MLS group messaging and Noise DM extensions"

	db := sqlite3.SQLite3Backend{DatabaseURL: filepath.Join(cfg.Server.DataDir, "events.db")}
	if err := db.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize event store: %v\n", err)
		os.Exit(-1)
	}
	relay.StoreEvent = append(relay.StoreEvent, db.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, db.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, db.DeleteEvent)

	// The extension runs as a write-path policy: one dispatch per
	// event, with the verdict driving both the OK response and the
	// selective fan-out below.
	relay.RejectEvent = append(relay.RejectEvent, func(ctx context.Context, ev *nostr.Event) (bool, string) {
		decision := ext.Dispatcher().OnEvent(ev)
		if !decision.Handled {
			return false, ""
		}
		if !decision.Accept {
			return true, decision.Reason.RelayMessage()
		}
		if !decision.Broadcast {
			set := make(map[string]bool, len(decision.Recipients))
			for _, r := range decision.Recipients {
				set[r] = true
			}
			recipients.Add(ev.ID, set)
		}
		return false, ""
	})

	// Selectively delivered events only reach connections authenticated
	// as a computed recipient.
	relay.PreventBroadcast = append(relay.PreventBroadcast, func(ws *khatru.WebSocket, ev *nostr.Event) bool {
		return !deliverTo(recipients, ev, ws.AuthedPublicKey)
	})

	relay.RejectFilter = append(relay.RejectFilter, func(ctx context.Context, filter nostr.Filter) (bool, string) {
		return restrictFilter(ext.Membership(), khatru.GetAuthed(ctx), filter)
	})

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	go func() {
		for range rotateCh {
			if err := ext.RotateLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- http.ListenAndServe(cfg.Server.Address, relay)
	}()

	select {
	case <-haltCh:
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "Relay listener failed: %v\n", err)
		ext.Shutdown()
		os.Exit(-1)
	}
}
