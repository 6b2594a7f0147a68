// keypackage.go - KeyPackage (identity credential) handler.
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
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/credential"
	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

type keyPackage struct {
	glue  glue.Glue
	log   *logging.Logger
	nowFn func() time.Time
}

// NewKeyPackage constructs the identity credential handler.
func NewKeyPackage(g glue.Glue) Handler {
	return &keyPackage{
		glue:  g,
		log:   g.LogBackend().GetLogger("handler/keypackage"),
		nowFn: time.Now,
	}
}

func (h *keyPackage) Name() string { return "keypackage" }

func (h *keyPackage) Category() ratelimit.Category { return ratelimit.CategoryKeyPackage }

func (h *keyPackage) OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error) {
	// The credential is self-attested: the owner tag must match the
	// event's signing pubkey.
	if x.Pubkey == "" || x.Pubkey != ev.PubKey {
		return Reject(ReasonOwnershipMismatch), nil
	}

	// Expiry is validated against processing time at first acceptance
	// only; overwrites are not re-validated against the stored record.
	now := h.nowFn()
	if !x.HasExpiry || !x.Expiry.After(now) {
		return Reject(ReasonAlreadyExpired), nil
	}

	if x.KeyRef == "" {
		return Reject(ReasonMissingKeyRef), nil
	}
	if x.Ciphersuite == "" {
		return Reject(ReasonMissingCiphersuite), nil
	}
	// The suite value is recorded, never constrained: suite negotiation
	// is a client concern.
	h.log.Debugf("KeyPackage %v/%v suite %v", ev.PubKey, x.KeyRef, x.Ciphersuite)

	err := h.glue.Credentials().Put(&credential.KeyPackage{
		Owner:       ev.PubKey,
		KeyRef:      x.KeyRef,
		Ciphersuite: x.Ciphersuite,
		ExpiresAt:   x.Expiry.Unix(),
		StoredAt:    now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	// No selective delivery applies to published credentials.
	return &Decision{Handled: true, Accept: true, Broadcast: true}, nil
}
