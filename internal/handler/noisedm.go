// noisedm.go - Pairwise Noise direct message handler.
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

type noiseDM struct {
	glue  glue.Glue
	log   *logging.Logger
	nowFn func() time.Time

	supported map[string]bool
}

// NewNoiseDM constructs the pairwise Noise transport handler.
func NewNoiseDM(g glue.Glue) Handler {
	supported := make(map[string]bool)
	for _, v := range g.Config().Noise.SupportedVersions {
		supported[v] = true
	}
	return &noiseDM{
		glue:      g,
		log:       g.LogBackend().GetLogger("handler/noisedm"),
		nowFn:     time.Now,
		supported: supported,
	}
}

func (h *noiseDM) Name() string { return "noisedm" }

func (h *noiseDM) Category() ratelimit.Category { return ratelimit.CategoryAggregate }

func (h *noiseDM) OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error) {
	if x.Pubkey == "" {
		return Reject(ReasonMissingRecipient), nil
	}

	// An unrecognized version may carry semantics this relay cannot
	// safely gate, so it is rejected rather than silently forwarded.
	if !h.supported[x.Version] {
		return Reject(ReasonUnsupportedVersion), nil
	}

	now := h.nowFn()
	stored, err := h.glue.Archive().Put(&archive.Envelope{
		MessageID:  ev.ID,
		Scope:      x.Pubkey,
		Kind:       ev.Kind,
		Payload:    []byte(ev.Content),
		ArchivedAt: now.Unix(),
		ExpiresAt:  now.Unix() + h.glue.Config().Archive.TTLSeconds,
	})
	switch {
	case err != nil:
		h.log.Warningf("Best-effort archive of noise DM %v failed: %v", ev.ID, err)
		instrument.ArchiveFailure()
	case stored:
		instrument.EnvelopeArchived()
	default:
		instrument.DuplicateSuppressed()
	}

	return &Decision{Handled: true, Accept: true, Recipients: []string{x.Pubkey}}, nil
}
