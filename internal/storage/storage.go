// storage.go - Persistence contract required by the relay extension.
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

// Package storage defines the persistence contract required by the
// relay extension.  Any document or key-value store providing point
// operations, a conditional update, and a bounded scan satisfies it.
package storage

import "errors"

var (
	// ErrNotFound is the error returned when a key is absent.
	ErrNotFound = errors.New("storage: no such key")

	// ErrConflict is the error returned when a conditional update's
	// predicate does not hold against the current value.
	ErrConflict = errors.New("storage: conditional update predicate failed")

	// ErrUnavailable is the error returned when the backend cannot be
	// reached.  Callers treat it as a retryable failure.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Predicate is evaluated against the current value of a key during a
// conditional update.  A nil current value means the key is absent.
type Predicate func(current []byte) bool

// Backend is the interface provided by all storage backends.
type Backend interface {
	// Upsert stores value under key in the named collection,
	// overwriting any existing value.
	Upsert(collection string, key, value []byte) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(collection string, key []byte) ([]byte, error)

	// Delete removes key from the collection.  Deleting an absent key
	// is a no-op, not an error.
	Delete(collection string, key []byte) error

	// ConditionalUpdate stores value under key iff pred holds against
	// the current value, atomically.  Returns ErrConflict otherwise.
	ConditionalUpdate(collection string, key []byte, pred Predicate, value []byte) error

	// Scan iterates the collection, invoking fn for each record.  fn
	// returning an error terminates the scan with that error.  Scan is
	// only used by the out-of-band cleanup job, never on the hot path.
	Scan(collection string, fn func(key, value []byte) error) error

	// Close closes the Backend instance.
	Close()
}
