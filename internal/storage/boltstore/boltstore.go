// boltstore.go - BoltDB backed storage for the relay extension.
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

// Package boltstore implements the relay extension storage contract
// with a simple boltdb based backend.
package boltstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
)

const (
	metadataBucket = "metadata"
	versionKey     = "version"
)

// Collections created when the store is opened.  Scans and point
// operations against other collections fail.
var collections = []string{
	constants.CollectionCredentials,
	constants.CollectionGroups,
	constants.CollectionArchive,
	constants.CollectionSeen,
}

type boltStore struct {
	db *bolt.DB
}

func (s *boltStore) Upsert(collection string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("boltstore: no such collection: %v", collection)
		}
		return bkt.Put(key, value)
	})
}

func (s *boltStore) Get(collection string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("boltstore: no such collection: %v", collection)
		}
		v := bkt.Get(key)
		if v == nil {
			return storage.ErrNotFound
		}
		// The slice is only valid for the lifetime of the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *boltStore) Delete(collection string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("boltstore: no such collection: %v", collection)
		}
		// Put/Delete on an absent key is already a no-op for bolt, which
		// gives the idempotency the cleanup job relies on.
		return bkt.Delete(key)
	})
}

func (s *boltStore) ConditionalUpdate(collection string, key []byte, pred storage.Predicate, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("boltstore: no such collection: %v", collection)
		}
		if !pred(bkt.Get(key)) {
			return storage.ErrConflict
		}
		return bkt.Put(key, value)
	})
}

func (s *boltStore) Scan(collection string, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return fmt.Errorf("boltstore: no such collection: %v", collection)
		}
		return bkt.ForEach(fn)
	})
}

func (s *boltStore) Close() {
	s.db.Sync()
	s.db.Close()
}

// New creates (or loads) a storage backend with the given file name f.
func New(f string) (storage.Backend, error) {
	var err error

	s := new(boltStore)
	s.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, c := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return err
			}
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("boltstore: incompatible version: %d", uint(b[0]))
			}
			return nil
		}

		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		s.db.Close()
		return nil, err
	}

	return s, nil
}
