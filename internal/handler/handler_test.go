// handler_test.go - Shared handler test fixture.
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

package handler

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/jab-r/nostr-mls-relay/config"
	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/credential"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/membership"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/storage/boltstore"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

type testGlue struct {
	cfg         *config.Config
	logBackend  *log.Backend
	credentials credential.Store
	membership  membership.Registry
	archive     archive.Archive
	limiter     *ratelimit.Limiter
}

func (g *testGlue) Config() *config.Config          { return g.cfg }
func (g *testGlue) LogBackend() *log.Backend        { return g.logBackend }
func (g *testGlue) Credentials() credential.Store   { return g.credentials }
func (g *testGlue) Membership() membership.Registry { return g.membership }
func (g *testGlue) Archive() archive.Archive        { return g.archive }
func (g *testGlue) RateLimiter() *ratelimit.Limiter { return g.limiter }

func newTestGlue(t *testing.T) *testGlue {
	cfg := &config.Config{
		Server: &config.Server{
			Identifier: "test.example.com",
			DataDir:    t.TempDir(),
		},
		Logging: &config.Logging{Disable: true, Level: "DEBUG"},
		Limits:  new(config.Limits),
		Archive: new(config.Archive),
		Cleanup: new(config.Cleanup),
		Noise:   new(config.Noise),
	}
	require.NoError(t, cfg.FixupAndValidate())

	backend, err := boltstore.New(filepath.Join(cfg.Server.DataDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	arc, err := archive.New(backend, logBackend)
	require.NoError(t, err)

	limiter, err := ratelimit.New(cfg.Limits)
	require.NoError(t, err)

	return &testGlue{
		cfg:         cfg,
		logBackend:  logBackend,
		credentials: credential.New(backend, logBackend),
		membership:  membership.New(backend, logBackend),
		archive:     arc,
		limiter:     limiter,
	}
}

// testEvent builds an event of the given kind with the supplied tags.
// The id is synthesized; signatures are the host relay's concern.
func testEvent(id, pubkey string, kind int, ts nostr.Tags) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(1000),
		Kind:      kind,
		Tags:      ts,
		Content:   "opaque-ciphertext",
	}
}

func dispatch(t *testing.T, h Handler, ev *nostr.Event) *Decision {
	d, err := h.OnEvent(ev, tags.Extract(ev.Tags))
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func expTag(at time.Time) string {
	return strconv.FormatInt(at.Unix(), 10)
}
