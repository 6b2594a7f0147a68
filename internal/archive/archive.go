// archive.go - TTL-bounded message archive for offline delivery.
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

// Package archive implements the append-only, TTL-bounded envelope
// store used for offline delivery.  Envelopes are deduplicated by
// event id: a bloom filter fronts the seen-id collection so duplicate
// delivery of the same event never creates duplicate archive entries.
package archive

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/yawning/bloom"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
)

// Envelope is an archived opaque payload.  Scope is the group id for
// group traffic and the recipient pubkey for giftwraps and Noise DMs.
type Envelope struct {
	MessageID  string `cbor:"message_id"`
	Scope      string `cbor:"scope"`
	Kind       int    `cbor:"kind"`
	Payload    []byte `cbor:"envelope"`
	ArchivedAt int64  `cbor:"archived_at"`
	ExpiresAt  int64  `cbor:"expires_at"`
}

// Archive is the interface provided by the message archive.
type Archive interface {
	// Put archives the envelope.  It returns false, without error, when
	// an envelope with the same MessageID was already archived.
	Put(env *Envelope) (bool, error)

	// ForEachInScope visits every archived envelope for a scope, for
	// history replay.
	ForEachInScope(scope string, fn func(*Envelope) error) error

	// Vacuum deletes expired envelopes (ExpiresAt before now) and their
	// seen-id markers, at most batch per pass; batch <= 0 is unbounded.
	// Single-record failures are logged and skipped.  Vacuum returns
	// early, without error, when haltCh closes.
	Vacuum(now time.Time, batch int, haltCh <-chan interface{}) (int, error)
}

// errBatchFull terminates a vacuum scan once the pass's batch bound is
// reached.
var errBatchFull = errors.New("archive: vacuum batch full")

type boltArchive struct {
	backend storage.Backend
	log     *logging.Logger

	// The filter is an approximate front for the seen collection; the
	// collection remains the ground truth so false positives cost one
	// extra point read, never a dropped envelope.
	filterMu sync.Mutex
	filter   *bloom.Filter
}

func envelopeKey(scope, messageID string) []byte {
	var b bytes.Buffer
	b.WriteString(scope)
	b.WriteByte(0x00)
	b.WriteString(messageID)
	return b.Bytes()
}

// isDuplicate reports whether id was archived before.  The filter bit
// is set on the check, but the ground-truth marker is only written by
// Put after a successful envelope write; a filter bit without a marker
// just costs one extra point read on the retry.
func (a *boltArchive) isDuplicate(id []byte) (bool, error) {
	a.filterMu.Lock()
	saturated := a.filter.Entries() >= a.filter.MaxEntries()
	maybeSeen := saturated || a.filter.TestAndSet(id)
	a.filterMu.Unlock()

	if !maybeSeen {
		return false, nil
	}

	// Slow path: either a false positive or a replay.
	_, err := a.backend.Get(constants.CollectionSeen, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (a *boltArchive) Put(env *Envelope) (bool, error) {
	id := []byte(env.MessageID)
	dup, err := a.isDuplicate(id)
	if err != nil {
		return false, err
	}
	if dup {
		a.log.Debugf("Suppressed duplicate envelope %v", env.MessageID)
		return false, nil
	}

	blob, err := cbor.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("archive: failed to serialize envelope %v: %v", env.MessageID, err)
	}
	if err := a.backend.Upsert(constants.CollectionArchive, envelopeKey(env.Scope, env.MessageID), blob); err != nil {
		return false, err
	}

	// The marker follows the envelope so a failed write leaves the id
	// retryable.  A failed marker write is benign: the retry re-upserts
	// the identical envelope under the same key.
	if err := a.backend.Upsert(constants.CollectionSeen, id, []byte{1}); err != nil {
		a.log.Warningf("Failed to record seen marker %v: %v", env.MessageID, err)
	}
	return true, nil
}

func (a *boltArchive) ForEachInScope(scope string, fn func(*Envelope) error) error {
	prefix := append([]byte(scope), 0x00)
	return a.backend.Scan(constants.CollectionArchive, func(key, value []byte) error {
		if !bytes.HasPrefix(key, prefix) {
			return nil
		}
		env := new(Envelope)
		if err := cbor.Unmarshal(value, env); err != nil {
			a.log.Warningf("Skipping undecodable envelope %x: %v", key, err)
			return nil
		}
		return fn(env)
	})
}

func (a *boltArchive) Vacuum(now time.Time, batch int, haltCh <-chan interface{}) (int, error) {
	cutoff := now.Unix()

	type victim struct {
		key       []byte
		messageID string
	}
	var expired []victim
	err := a.backend.Scan(constants.CollectionArchive, func(key, value []byte) error {
		var env Envelope
		if err := cbor.Unmarshal(value, &env); err != nil {
			a.log.Warningf("Skipping undecodable envelope %x: %v", key, err)
			return nil
		}
		if env.ExpiresAt < cutoff {
			expired = append(expired, victim{append([]byte(nil), key...), env.MessageID})
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
	for _, v := range expired {
		select {
		case <-haltCh:
			return purged, nil
		default:
		}
		if err := a.backend.Delete(constants.CollectionArchive, v.key); err != nil {
			a.log.Warningf("Failed to purge envelope %x: %v", v.key, err)
			continue
		}
		// The seen marker goes with the envelope; past the TTL a replay
		// of the same event id is a fresh archival, not a duplicate.
		if err := a.backend.Delete(constants.CollectionSeen, []byte(v.messageID)); err != nil {
			a.log.Warningf("Failed to purge seen marker %v: %v", v.messageID, err)
		}
		purged++
	}
	return purged, nil
}

// New constructs an archive over the given backend.
func New(backend storage.Backend, logBackend *log.Backend) (Archive, error) {
	a := &boltArchive{
		backend: backend,
		log:     logBackend.GetLogger("archive"),
	}

	var err error
	a.filter, err = bloom.New(rand.Reader, 24, 0.001) // 2 MiB, 1,164,413 entries.
	if err != nil {
		return nil, err
	}

	// Warm the filter from the ground truth so restarts keep suppressing
	// duplicates on the fast path.
	if err := backend.Scan(constants.CollectionSeen, func(key, value []byte) error {
		if a.filter.Entries() < a.filter.MaxEntries() {
			a.filter.TestAndSet(key)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return a, nil
}
