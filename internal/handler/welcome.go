// welcome.go - Top-level Welcome rejection.
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
	"github.com/nbd-wtf/go-nostr"

	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

// Welcomes are only ever delivered embedded in a Giftwrap.  The kind is
// still in the extension's declared set so a stray top-level submission
// is rejected instead of leaking through as a foreign kind.
type welcome struct{}

// NewWelcome constructs the top-level Welcome rejector.
func NewWelcome(g glue.Glue) Handler {
	return &welcome{}
}

func (h *welcome) Name() string { return "welcome" }

func (h *welcome) Category() ratelimit.Category { return ratelimit.CategoryAggregate }

func (h *welcome) OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error) {
	return Reject(ReasonWelcomeTopLevel), nil
}
