// groupmessage.go - Encrypted group traffic handler.
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
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/instrument"
	"github.com/jab-r/nostr-mls-relay/internal/membership"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

type groupMessage struct {
	glue  glue.Glue
	log   *logging.Logger
	nowFn func() time.Time
}

// NewGroupMessage constructs the encrypted group traffic handler.
func NewGroupMessage(g glue.Glue) Handler {
	return &groupMessage{
		glue:  g,
		log:   g.LogBackend().GetLogger("handler/groupmessage"),
		nowFn: time.Now,
	}
}

func (h *groupMessage) Name() string { return "groupmessage" }

func (h *groupMessage) Category() ratelimit.Category { return ratelimit.CategoryGroupMessage }

func (h *groupMessage) OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error) {
	if x.GroupID == "" {
		return Reject(ReasonMissingGroupID), nil
	}

	// The epoch transition itself is asserted by the MLS layer above;
	// the relay only enforces that accepted numbers never decrease.  A
	// stale declared epoch is a legal replay within the TTL window.
	if x.HasEpoch {
		_, advanced, err := h.glue.Membership().ObserveEpoch(x.GroupID, x.Epoch)
		switch {
		case errors.Is(err, membership.ErrUnknownGroup):
			return Reject(ReasonUnknownGroup), nil
		case err != nil:
			return nil, err
		}
		if advanced {
			instrument.EpochAdvanced()
		}
	}

	// Read the member set after the epoch fold so the decision sees the
	// current state, including any grant a giftwrap just made.
	members, err := h.glue.Membership().Members(x.GroupID)
	switch {
	case errors.Is(err, membership.ErrUnknownGroup):
		return Reject(ReasonUnknownGroup), nil
	case err != nil:
		return nil, err
	}

	now := h.nowFn()
	stored, err := h.glue.Archive().Put(&archive.Envelope{
		MessageID:  ev.ID,
		Scope:      x.GroupID,
		Kind:       ev.Kind,
		Payload:    []byte(ev.Content),
		ArchivedAt: now.Unix(),
		ExpiresAt:  now.Unix() + h.glue.Config().Archive.TTLSeconds,
	})
	switch {
	case err != nil:
		h.log.Warningf("Best-effort archive of group message %v failed: %v", ev.ID, err)
		instrument.ArchiveFailure()
	case stored:
		instrument.EnvelopeArchived()
	default:
		instrument.DuplicateSuppressed()
	}

	recipients := members
	if h.glue.Config().Server.OmitSenderDelivery {
		recipients = recipients[:0:0]
		for _, m := range members {
			if m != ev.PubKey {
				recipients = append(recipients, m)
			}
		}
	}

	return &Decision{Handled: true, Accept: true, Recipients: recipients}, nil
}
