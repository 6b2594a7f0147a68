// membership.go - Group membership registry.
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

// Package membership implements the group membership registry, the
// sole owner of the "group id -> member set, current epoch" state.
// Updates to a single group are serialized by a keyed lock map so the
// epoch never moves backwards; updates to different groups proceed
// independently.
package membership

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/storage"
)

// ErrUnknownGroup is the error returned when the referenced group has
// no registry record.  A message cannot create a group; only a
// Giftwrap may.
var ErrUnknownGroup = errors.New("membership: unknown group")

// Group is a stored membership record.
type Group struct {
	GroupID     string   `cbor:"group_id"`
	Members     []string `cbor:"members"`
	Epoch       uint64   `cbor:"epoch"`
	LastUpdated int64    `cbor:"last_updated"`
}

// Registry is the interface provided by the membership registry.
type Registry interface {
	// AddMember adds pubkey to the group's member set, creating the
	// record at epoch 0 when the group is unseen.  The epoch is never
	// changed by a membership grant.
	AddMember(groupID, pubkey string) error

	// Members returns the group's current member set, or
	// ErrUnknownGroup.
	Members(groupID string) ([]string, error)

	// ObserveEpoch folds a declared epoch into the record: a declared
	// epoch greater than the stored one advances it, anything else
	// leaves it untouched.  It returns the effective stored epoch and
	// whether this observation advanced it.  Returns ErrUnknownGroup
	// when the group has no record.
	ObserveEpoch(groupID string, declared uint64) (uint64, bool, error)

	// Snapshot returns a copy of the group's full record, or
	// ErrUnknownGroup.
	Snapshot(groupID string) (*Group, error)
}

// groupLock is a reference counted keyed lock.  Entries are reclaimed
// when the last holder releases them, so the lock table stays
// proportional to the number of groups with in-flight writes.
type groupLock struct {
	sync.Mutex
	refs int
}

type registry struct {
	backend storage.Backend
	log     *logging.Logger

	lockMapMu sync.Mutex
	lockMap   map[string]*groupLock

	nowFn func() time.Time
}

func (r *registry) lockGroup(groupID string) func() {
	r.lockMapMu.Lock()
	l, ok := r.lockMap[groupID]
	if !ok {
		l = new(groupLock)
		r.lockMap[groupID] = l
	}
	l.refs++
	r.lockMapMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		r.lockMapMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.lockMap, groupID)
		}
		r.lockMapMu.Unlock()
	}
}

func (r *registry) load(groupID string) (*Group, error) {
	blob, err := r.backend.Get(constants.CollectionGroups, []byte(groupID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrUnknownGroup
	case err != nil:
		return nil, err
	}

	g := new(Group)
	if err := cbor.Unmarshal(blob, g); err != nil {
		return nil, fmt.Errorf("membership: failed to deserialize group %v: %v", groupID, err)
	}
	return g, nil
}

// store writes g with a predicate re-asserting epoch monotonicity at
// the backend, as a second guard beyond the keyed lock.
func (r *registry) store(g *Group) error {
	blob, err := cbor.Marshal(g)
	if err != nil {
		return fmt.Errorf("membership: failed to serialize group %v: %v", g.GroupID, err)
	}

	monotonic := func(current []byte) bool {
		if current == nil {
			return true
		}
		var prev Group
		if err := cbor.Unmarshal(current, &prev); err != nil {
			return true
		}
		return prev.Epoch <= g.Epoch
	}

	return r.backend.ConditionalUpdate(constants.CollectionGroups, []byte(g.GroupID), monotonic, blob)
}

func (r *registry) AddMember(groupID, pubkey string) error {
	unlock := r.lockGroup(groupID)
	defer unlock()

	g, err := r.load(groupID)
	switch {
	case errors.Is(err, ErrUnknownGroup):
		g = &Group{GroupID: groupID, Epoch: 0}
	case err != nil:
		return err
	}

	for _, m := range g.Members {
		if m == pubkey {
			// Duplicate grant, nothing to write.
			return nil
		}
	}
	g.Members = append(g.Members, pubkey)
	sort.Strings(g.Members)
	g.LastUpdated = r.nowFn().Unix()

	r.log.Debugf("Group %v: granted membership to %v (%d members, epoch %d)", groupID, pubkey, len(g.Members), g.Epoch)
	return r.store(g)
}

func (r *registry) Members(groupID string) ([]string, error) {
	g, err := r.load(groupID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.Members...), nil
}

func (r *registry) ObserveEpoch(groupID string, declared uint64) (uint64, bool, error) {
	unlock := r.lockGroup(groupID)
	defer unlock()

	g, err := r.load(groupID)
	if err != nil {
		return 0, false, err
	}
	if declared <= g.Epoch {
		// Stale or current declarations are accepted but never rewind
		// the stored epoch.
		return g.Epoch, false, nil
	}

	g.Epoch = declared
	g.LastUpdated = r.nowFn().Unix()
	if err := r.store(g); err != nil {
		return 0, false, err
	}
	r.log.Debugf("Group %v: epoch advanced to %d", groupID, declared)
	return declared, true, nil
}

func (r *registry) Snapshot(groupID string) (*Group, error) {
	g, err := r.load(groupID)
	if err != nil {
		return nil, err
	}
	out := *g
	out.Members = append([]string(nil), g.Members...)
	return &out, nil
}

// New constructs a membership registry over the given backend.
func New(backend storage.Backend, logBackend *log.Backend) Registry {
	return &registry{
		backend: backend,
		log:     logBackend.GetLogger("membership"),
		lockMap: make(map[string]*groupLock),
		nowFn:   time.Now,
	}
}
