// giftwrap.go - Giftwrap (onboarding envelope) handler.
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

	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/instrument"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

type giftwrap struct {
	glue  glue.Glue
	log   *logging.Logger
	nowFn func() time.Time
}

// NewGiftwrap constructs the onboarding envelope handler.  The carried
// Welcome payload is opaque to the relay and is never inspected.
func NewGiftwrap(g glue.Glue) Handler {
	return &giftwrap{
		glue:  g,
		log:   g.LogBackend().GetLogger("handler/giftwrap"),
		nowFn: time.Now,
	}
}

func (h *giftwrap) Name() string { return "giftwrap" }

func (h *giftwrap) Category() ratelimit.Category { return ratelimit.CategoryAggregate }

func (h *giftwrap) OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error) {
	if x.Pubkey == "" {
		return Reject(ReasonMissingRecipient), nil
	}
	recipient := x.Pubkey

	// A group id makes this a group-scoped welcome: grant membership.
	// Absence is legal for pairwise welcomes.  The grant is the durable
	// side effect of the event; it must succeed for the event to be
	// accepted, and it never moves the group's epoch.
	if x.GroupID != "" {
		if err := h.glue.Membership().AddMember(x.GroupID, recipient); err != nil {
			return nil, err
		}
	}

	// Archival is best-effort convenience for offline delivery: the
	// grant stands even if this fails, since history can be replayed
	// once the membership exists.
	now := h.nowFn()
	stored, err := h.glue.Archive().Put(&archive.Envelope{
		MessageID:  ev.ID,
		Scope:      recipient,
		Kind:       ev.Kind,
		Payload:    []byte(ev.Content),
		ArchivedAt: now.Unix(),
		ExpiresAt:  now.Unix() + h.glue.Config().Archive.TTLSeconds,
	})
	switch {
	case err != nil:
		h.log.Warningf("Best-effort archive of giftwrap %v failed: %v", ev.ID, err)
		instrument.ArchiveFailure()
	case stored:
		instrument.EnvelopeArchived()
	default:
		instrument.DuplicateSuppressed()
	}

	// A giftwrap is for exactly one party, never broadcast.
	return &Decision{Handled: true, Accept: true, Recipients: []string{recipient}}, nil
}
