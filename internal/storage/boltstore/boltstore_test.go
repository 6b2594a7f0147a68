// boltstore_test.go - Tests for the boltdb storage backend.
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

package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
)

func newTestStore(t *testing.T) storage.Backend {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPointOperations(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	_, err := s.Get(constants.CollectionCredentials, []byte("missing"))
	require.ErrorIs(err, storage.ErrNotFound)

	require.NoError(s.Upsert(constants.CollectionCredentials, []byte("k"), []byte("v1")))
	v, err := s.Get(constants.CollectionCredentials, []byte("k"))
	require.NoError(err)
	require.Equal([]byte("v1"), v)

	// Upsert overwrites.
	require.NoError(s.Upsert(constants.CollectionCredentials, []byte("k"), []byte("v2")))
	v, err = s.Get(constants.CollectionCredentials, []byte("k"))
	require.NoError(err)
	require.Equal([]byte("v2"), v)

	// Delete is idempotent on a missing key.
	require.NoError(s.Delete(constants.CollectionCredentials, []byte("k")))
	require.NoError(s.Delete(constants.CollectionCredentials, []byte("k")))
	_, err = s.Get(constants.CollectionCredentials, []byte("k"))
	require.ErrorIs(err, storage.ErrNotFound)
}

func TestConditionalUpdate(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	absentOnly := func(current []byte) bool { return current == nil }

	require.NoError(s.ConditionalUpdate(constants.CollectionGroups, []byte("g"), absentOnly, []byte("a")))
	err := s.ConditionalUpdate(constants.CollectionGroups, []byte("g"), absentOnly, []byte("b"))
	require.ErrorIs(err, storage.ErrConflict)

	// The failed update must not have modified the value.
	v, err := s.Get(constants.CollectionGroups, []byte("g"))
	require.NoError(err)
	require.Equal([]byte("a"), v)
}

func TestScan(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)

	require.NoError(s.Upsert(constants.CollectionArchive, []byte("a"), []byte("1")))
	require.NoError(s.Upsert(constants.CollectionArchive, []byte("b"), []byte("2")))

	seen := make(map[string]string)
	require.NoError(s.Scan(constants.CollectionArchive, func(k, v []byte) error {
		seen[string(k)] = string(v)
		return nil
	}))
	require.Equal(map[string]string{"a": "1", "b": "2"}, seen)

	_, err := s.Get("nonexistent", []byte("a"))
	require.Error(err)
}
