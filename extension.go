// extension.go - MLS/Noise relay extension instance.
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

// Package mlsrelay provides the MLS/Noise protocol extension for a
// Nostr relay: the event-kind dispatcher, the protocol role handlers,
// the membership registry, and the credential/archive lifecycle.  The
// host relay owns connections, subscriptions, and wire framing; the
// extension renders per-event accept/reject and recipient-set
// decisions.
package mlsrelay

import (
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/config"
	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/cleanup"
	"github.com/jab-r/nostr-mls-relay/internal/credential"
	"github.com/jab-r/nostr-mls-relay/internal/dispatcher"
	"github.com/jab-r/nostr-mls-relay/internal/instrument"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/membership"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
	"github.com/jab-r/nostr-mls-relay/internal/storage/boltstore"
)

// Extension is an MLS/Noise relay extension instance.
type Extension struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	backend     storage.Backend
	credentials credential.Store
	membership  membership.Registry
	archive     archive.Archive
	limiter     *ratelimit.Limiter

	dispatcher *dispatcher.Dispatcher
	vacuum     *cleanup.Vacuum

	haltOnce sync.Once
}

// extensionGlue binds the Extension to the internal Glue interface.
type extensionGlue struct {
	e *Extension
}

func (g *extensionGlue) Config() *config.Config          { return g.e.cfg }
func (g *extensionGlue) LogBackend() *log.Backend        { return g.e.logBackend }
func (g *extensionGlue) Credentials() credential.Store   { return g.e.credentials }
func (g *extensionGlue) Membership() membership.Registry { return g.e.membership }
func (g *extensionGlue) Archive() archive.Archive        { return g.e.archive }
func (g *extensionGlue) RateLimiter() *ratelimit.Limiter { return g.e.limiter }

// Dispatcher returns the event dispatcher the host relay feeds inbound
// events into.
func (e *Extension) Dispatcher() *dispatcher.Dispatcher {
	return e.dispatcher
}

// Membership returns the group membership registry, for host relay
// read-path policies.
func (e *Extension) Membership() membership.Registry {
	return e.membership
}

// Vacuum returns the cleanup job entry point.
func (e *Extension) Vacuum() *cleanup.Vacuum {
	return e.vacuum
}

// RotateLog rotates the log file, if logging to a file is enabled.
func (e *Extension) RotateLog() error {
	return e.logBackend.Rotate()
}

// Shutdown cleanly halts the extension and closes the backing store.
func (e *Extension) Shutdown() {
	e.haltOnce.Do(func() {
		e.log.Notice("Shutting down.")
		e.vacuum.Halt()
		e.backend.Close()
	})
}

// New constructs an Extension from a validated configuration.
func New(cfg *config.Config) (*Extension, error) {
	e := &Extension{cfg: cfg}

	var err error
	e.logBackend, err = log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	e.log = e.logBackend.GetLogger("extension")
	e.log.Noticef("Starting MLS/Noise extension for %v", cfg.Server.Identifier)

	e.backend, err = boltstore.New(cfg.StoreFile())
	if err != nil {
		return nil, fmt.Errorf("mlsrelay: failed to open store: %v", err)
	}

	e.credentials = credential.New(e.backend, e.logBackend)
	e.membership = membership.New(e.backend, e.logBackend)
	e.archive, err = archive.New(e.backend, e.logBackend)
	if err != nil {
		e.backend.Close()
		return nil, fmt.Errorf("mlsrelay: failed to initialize archive: %v", err)
	}
	e.limiter, err = ratelimit.New(cfg.Limits)
	if err != nil {
		e.backend.Close()
		return nil, fmt.Errorf("mlsrelay: failed to initialize rate limiter: %v", err)
	}

	g := &extensionGlue{e}
	e.dispatcher = dispatcher.New(g)
	e.vacuum = cleanup.New(g)

	if cfg.Server.MetricsAddress != "" {
		instrument.StartPrometheusListener(cfg.Server.MetricsAddress, e.logBackend.GetLogger("instrument"))
	}

	return e, nil
}
