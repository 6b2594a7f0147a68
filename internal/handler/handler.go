// handler.go - Protocol role handler interface and verdict types.
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

// Package handler implements the per-protocol-role event handlers: one
// each for KeyPackage, Giftwrap, Group Message, and Noise DM events.
// Every handler validates its role's invariants, persists what the role
// requires, and computes the recipient set for selective delivery.
package handler

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
	"github.com/jab-r/nostr-mls-relay/internal/tags"
)

// Reason identifies why an event was rejected.
type Reason int

const (
	// ReasonNone is the zero Reason, carried by accepted events.
	ReasonNone Reason = iota

	// ReasonOwnershipMismatch: the owner tag does not match the signing
	// pubkey on a self-attested submission.
	ReasonOwnershipMismatch

	// ReasonAlreadyExpired: the expiry tag is missing, malformed, or in
	// the past at processing time.
	ReasonAlreadyExpired

	// ReasonMissingKeyRef: a KeyPackage carried no key reference tag.
	ReasonMissingKeyRef

	// ReasonMissingCiphersuite: a KeyPackage carried no ciphersuite tag.
	ReasonMissingCiphersuite

	// ReasonMissingRecipient: a Giftwrap or Noise DM carried no
	// recipient tag.
	ReasonMissingRecipient

	// ReasonMissingGroupID: a group message carried no group id tag.
	ReasonMissingGroupID

	// ReasonUnknownGroup: the referenced group has no membership record.
	ReasonUnknownGroup

	// ReasonUnsupportedVersion: the Noise protocol version marker is not
	// one this relay gates.
	ReasonUnsupportedVersion

	// ReasonWelcomeTopLevel: a Welcome was submitted as a top-level
	// event instead of embedded in a Giftwrap.
	ReasonWelcomeTopLevel

	// ReasonRateLimited: the submitter exceeded a sliding-window quota.
	// Transient; retrying later is expected client behavior.
	ReasonRateLimited

	// ReasonUnavailable: a storage read required for validation failed.
	// Transient; the event is never accepted with unverified state.
	ReasonUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonOwnershipMismatch:
		return "OwnershipMismatch"
	case ReasonAlreadyExpired:
		return "AlreadyExpired"
	case ReasonMissingKeyRef:
		return "MissingKeyRef"
	case ReasonMissingCiphersuite:
		return "MissingCiphersuite"
	case ReasonMissingRecipient:
		return "MissingRecipient"
	case ReasonMissingGroupID:
		return "MissingGroupId"
	case ReasonUnknownGroup:
		return "UnknownGroup"
	case ReasonUnsupportedVersion:
		return "UnsupportedVersion"
	case ReasonWelcomeTopLevel:
		return "WelcomeTopLevel"
	case ReasonRateLimited:
		return "RateLimited"
	case ReasonUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// Retryable returns true when the rejection is transient from the
// caller's perspective.
func (r Reason) Retryable() bool {
	return r == ReasonRateLimited || r == ReasonUnavailable
}

// RelayMessage renders the reason as a NIP-01 OK-message string for the
// submitting connection.
func (r Reason) RelayMessage() string {
	switch {
	case r == ReasonNone:
		return ""
	case r == ReasonRateLimited:
		return "rate-limited: too many submissions, slow down"
	case r == ReasonUnavailable:
		return "error: storage temporarily unavailable, retry later"
	default:
		return "invalid: " + r.String()
	}
}

// Decision is the verdict a handler renders for one event, consumed by
// the host relay's delivery path.
type Decision struct {
	// Handled is false when the event's kind is outside the extension's
	// declared set; such events pass through untouched.
	Handled bool

	// Accept is the relay-level accept/reject verdict.
	Accept bool

	// Reason is set iff the event was rejected.
	Reason Reason

	// Broadcast indicates no selective delivery applies: any
	// authenticated connection with a matching subscription receives
	// the event.
	Broadcast bool

	// Recipients is the computed recipient set when Broadcast is false.
	Recipients []string
}

// Passthrough returns the decision for a kind the extension does not own.
func Passthrough() *Decision {
	return &Decision{Handled: false, Accept: true}
}

// Reject returns a rejection decision with the given reason.
func Reject(r Reason) *Decision {
	return &Decision{Handled: true, Reason: r}
}

// Handler is the capability interface every protocol role handler
// satisfies: validate, persist, and compute recipients for one event.
type Handler interface {
	// Name returns the handler's log-friendly role name.
	Name() string

	// Category returns the rate limiter category gating this role.
	Category() ratelimit.Category

	// OnEvent processes a single event.  A returned error means a
	// storage failure prevented validation or a required write; the
	// dispatcher surfaces it as a retryable rejection.
	OnEvent(ev *nostr.Event, x *tags.Extracted) (*Decision, error)
}
