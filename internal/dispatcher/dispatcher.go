// dispatcher.go - Event kind dispatcher.
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

// Package dispatcher routes inbound events to the protocol role
// handlers.  The routing table is a statically constructed mapping from
// the closed kind enumeration to handlers; exactly one handler runs per
// event, and kinds outside the extension's declared set pass through
// untouched.
package dispatcher

import (
	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/handler"
	"github.com/jab-r/nostr-mls-relay/internal/instrument"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

// Dispatcher routes events by kind and gates them through the rate
// limiter before any handler or storage work.
type Dispatcher struct {
	glue     glue.Glue
	log      *logging.Logger
	handlers map[int]handler.Handler
}

// New constructs a Dispatcher with its routing table.
func New(g glue.Glue) *Dispatcher {
	return &Dispatcher{
		glue: g,
		log:  g.LogBackend().GetLogger("dispatcher"),
		handlers: map[int]handler.Handler{
			constants.KindKeyPackage:   handler.NewKeyPackage(g),
			constants.KindWelcome:      handler.NewWelcome(g),
			constants.KindGroupMessage: handler.NewGroupMessage(g),
			constants.KindNoiseDM:      handler.NewNoiseDM(g),
			constants.KindGiftwrap:     handler.NewGiftwrap(g),
		},
	}
}

// OnEvent processes one inbound event through the gate sequence:
// rate check, tag extraction, role validation, persistence, and the
// recipient-set decision.  It never returns nil.
func (d *Dispatcher) OnEvent(ev *nostr.Event) *handler.Decision {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		// Not ours; the host relay handles it as any other event.
		return handler.Passthrough()
	}
	instrument.EventReceived(ev.Kind)

	// The rate gate must run before validation or any storage access.
	// Each event is charged against the aggregate quota exactly once,
	// plus the handler's own category when it has one.
	limiter := d.glue.RateLimiter()
	allowed := limiter.Allow(ev.PubKey, ratelimit.CategoryAggregate)
	if cat := h.Category(); allowed && cat != ratelimit.CategoryAggregate {
		allowed = limiter.Allow(ev.PubKey, cat)
	}
	if !allowed {
		d.log.Debugf("Rate limited %v event from %v", h.Name(), ev.PubKey)
		return d.rejected(ev, handler.ReasonRateLimited)
	}

	x := tags.Extract(ev.Tags)
	decision, err := h.OnEvent(ev, x)
	if err != nil {
		// A storage failure during validation or a required write: the
		// event is rejected retryably, never accepted with unverified
		// state.
		d.log.Errorf("Handler %v failed for event %v: %v", h.Name(), ev.ID, err)
		return d.rejected(ev, handler.ReasonUnavailable)
	}
	if !decision.Accept {
		return d.rejected(ev, decision.Reason)
	}

	instrument.EventAccepted(ev.Kind)
	d.log.Debugf("Accepted %v event %v from %v", h.Name(), ev.ID, ev.PubKey)
	return decision
}

func (d *Dispatcher) rejected(ev *nostr.Event, reason handler.Reason) *handler.Decision {
	instrument.EventRejected(reason.String())
	d.log.Debugf("Rejected event %v from %v: %v", ev.ID, ev.PubKey, reason)
	return handler.Reject(reason)
}
