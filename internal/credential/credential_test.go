// credential_test.go - Credential store tests.
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

package credential

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/storage/boltstore"
)

func newTestStore(t *testing.T) Store {
	backend, err := boltstore.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	return New(backend, logBackend)
}

func TestPutGet(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	_, err := s.Get("alice", "k1")
	require.ErrorIs(err, ErrNoSuchCredential)

	kp := &KeyPackage{
		Owner:       "alice",
		KeyRef:      "k1",
		Ciphersuite: "suite-1",
		ExpiresAt:   3600,
		StoredAt:    100,
	}
	require.NoError(s.Put(kp))

	got, err := s.Get("alice", "k1")
	require.NoError(err)
	require.Equal(kp, got)

	// Distinct references never collide.
	_, err = s.Get("alice", "k2")
	require.ErrorIs(err, ErrNoSuchCredential)
}

func TestPutLastWriteWins(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "k1", Ciphersuite: "a", StoredAt: 100}))

	// A same-reference resubmission with a later StoredAt overwrites.
	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "k1", Ciphersuite: "b", StoredAt: 200}))
	got, err := s.Get("alice", "k1")
	require.NoError(err)
	require.Equal("b", got.Ciphersuite)

	// A stale write is silently discarded.
	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "k1", Ciphersuite: "c", StoredAt: 150}))
	got, err = s.Get("alice", "k1")
	require.NoError(err)
	require.Equal("b", got.Ciphersuite)
}

func TestVacuum(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	now := time.Unix(1000, 0)
	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "live", ExpiresAt: 2000, StoredAt: 1}))
	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "dead", ExpiresAt: 500, StoredAt: 1}))
	require.NoError(s.Put(&KeyPackage{Owner: "bob", KeyRef: "dead", ExpiresAt: 999, StoredAt: 1}))

	haltCh := make(chan interface{})
	purged, err := s.Vacuum(now, 0, haltCh)
	require.NoError(err)
	require.Equal(2, purged)

	_, err = s.Get("alice", "live")
	require.NoError(err)
	_, err = s.Get("alice", "dead")
	require.ErrorIs(err, ErrNoSuchCredential)
	_, err = s.Get("bob", "dead")
	require.ErrorIs(err, ErrNoSuchCredential)

	// A second pass with nothing new to expire is a no-op, not an error.
	purged, err = s.Vacuum(now, 0, haltCh)
	require.NoError(err)
	require.Equal(0, purged)
}

func TestVacuumBatchBound(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: ref, ExpiresAt: 500, StoredAt: 1}))
	}

	// A bounded pass purges at most batch records; the backlog drains
	// over subsequent passes.
	haltCh := make(chan interface{})
	purged, err := s.Vacuum(time.Unix(1000, 0), 2, haltCh)
	require.NoError(err)
	require.Equal(2, purged)

	purged, err = s.Vacuum(time.Unix(1000, 0), 2, haltCh)
	require.NoError(err)
	require.Equal(1, purged)
}

func TestVacuumHalt(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Put(&KeyPackage{Owner: "alice", KeyRef: "dead", ExpiresAt: 1, StoredAt: 1}))

	haltCh := make(chan interface{})
	close(haltCh)
	purged, err := s.Vacuum(time.Unix(1000, 0), 0, haltCh)
	require.NoError(err)
	require.Equal(0, purged)
}
