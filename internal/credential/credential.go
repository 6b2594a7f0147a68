// credential.go - KeyPackage credential store.
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

// Package credential implements the KeyPackage credential store.  The
// store is the sole owner of identity credential state: at most one
// live credential exists per (owner, key reference) pair, and a
// resubmission with the same reference overwrites the prior record.
package credential

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
)

// ErrNoSuchCredential is the error returned when a lookup misses.
var ErrNoSuchCredential = errors.New("credential: no such credential")

// errBatchFull terminates a vacuum scan once the pass's batch bound is
// reached.
var errBatchFull = errors.New("credential: vacuum batch full")

// KeyPackage is a stored identity credential.  Records are immutable
// once stored; a re-publish with the same key reference replaces the
// record wholesale.
type KeyPackage struct {
	Owner       string `cbor:"owner"`
	KeyRef      string `cbor:"key_reference"`
	Ciphersuite string `cbor:"ciphersuite"`
	ExpiresAt   int64  `cbor:"expires_at"`
	StoredAt    int64  `cbor:"stored_at"`
}

// Store is the interface provided by all credential store
// implementations.
type Store interface {
	// Put upserts the credential keyed by (owner, key reference).
	// Writes are last-write-wins by StoredAt: a write carrying an older
	// StoredAt than the stored record is silently discarded.
	Put(kp *KeyPackage) error

	// Get returns the credential for (owner, keyRef), or
	// ErrNoSuchCredential.
	Get(owner, keyRef string) (*KeyPackage, error)

	// Vacuum deletes expired credentials (ExpiresAt before now), at
	// most batch per pass; batch <= 0 is unbounded.  Single-record
	// failures are logged and skipped, never aborting the sweep.
	// Vacuum returns early, without error, when haltCh closes.
	Vacuum(now time.Time, batch int, haltCh <-chan interface{}) (int, error)
}

type store struct {
	backend storage.Backend
	log     *logging.Logger
}

// recordKey is owner and reference joined with a separator neither may
// contain (pubkeys are hex, references are sanitized upstream).
func recordKey(owner, keyRef string) []byte {
	var b bytes.Buffer
	b.WriteString(owner)
	b.WriteByte(0x00)
	b.WriteString(keyRef)
	return b.Bytes()
}

func (s *store) Put(kp *KeyPackage) error {
	blob, err := cbor.Marshal(kp)
	if err != nil {
		return fmt.Errorf("credential: failed to serialize record: %v", err)
	}

	notNewer := func(current []byte) bool {
		if current == nil {
			return true
		}
		var prev KeyPackage
		if err := cbor.Unmarshal(current, &prev); err != nil {
			// Undecodable records lose to any write.
			return true
		}
		return prev.StoredAt <= kp.StoredAt
	}

	err = s.backend.ConditionalUpdate(constants.CollectionCredentials, recordKey(kp.Owner, kp.KeyRef), notNewer, blob)
	if errors.Is(err, storage.ErrConflict) {
		// A newer record is already stored; last-write-wins makes this
		// stale write a no-op.
		s.log.Debugf("Discarded stale credential write for %v/%v", kp.Owner, kp.KeyRef)
		return nil
	}
	return err
}

func (s *store) Get(owner, keyRef string) (*KeyPackage, error) {
	blob, err := s.backend.Get(constants.CollectionCredentials, recordKey(owner, keyRef))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNoSuchCredential
	case err != nil:
		return nil, err
	}

	kp := new(KeyPackage)
	if err := cbor.Unmarshal(blob, kp); err != nil {
		return nil, fmt.Errorf("credential: failed to deserialize record: %v", err)
	}
	return kp, nil
}

func (s *store) Vacuum(now time.Time, batch int, haltCh <-chan interface{}) (int, error) {
	cutoff := now.Unix()

	// Collect under a read transaction, delete keyed afterwards.  The
	// deletions stay idempotent so a re-run after partial failure is
	// safe, and the batch bound keeps a pass from buffering the whole
	// backlog; the remainder is the next pass's problem.
	var expired [][]byte
	err := s.backend.Scan(constants.CollectionCredentials, func(key, value []byte) error {
		var kp KeyPackage
		if err := cbor.Unmarshal(value, &kp); err != nil {
			s.log.Warningf("Skipping undecodable credential record %x: %v", key, err)
			return nil
		}
		if kp.ExpiresAt < cutoff {
			expired = append(expired, append([]byte(nil), key...))
			if batch > 0 && len(expired) >= batch {
				return errBatchFull
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return 0, err
	}

	purged := 0
	for _, key := range expired {
		select {
		case <-haltCh:
			return purged, nil
		default:
		}
		if err := s.backend.Delete(constants.CollectionCredentials, key); err != nil {
			s.log.Warningf("Failed to purge credential %x: %v", key, err)
			continue
		}
		purged++
	}
	return purged, nil
}

// New constructs a credential store over the given backend.
func New(backend storage.Backend, logBackend *log.Backend) Store {
	return &store{
		backend: backend,
		log:     logBackend.GetLogger("credential"),
	}
}
