// tags.go - Typed view over protocol event tags.
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

// Package tags parses an event's tag list into the structured view the
// protocol handlers consume.  The extractor is shape-agnostic: unknown
// or malformed tags are skipped for forward compatibility, and it is
// the calling handler's job to reject an event that is missing a tag
// its protocol role requires.
package tags

import (
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
)

// Extracted is the typed view over an event's tag list.  String fields
// are empty when the corresponding tag is absent; the boolean
// companions disambiguate absent numeric tags from zero values.
type Extracted struct {
	// Pubkey is the first `p` tag value: the self-attested owner for a
	// KeyPackage, the recipient for a Giftwrap or Noise DM.
	Pubkey string

	// Ciphersuite is the `cs` tag value, recorded but never constrained.
	Ciphersuite string

	// KeyRef is the `kpr` tag value, the credential's unique reference.
	KeyRef string

	// GroupID is the `h` tag value.
	GroupID string

	// Version is the `v` tag value, the Noise protocol version marker.
	Version string

	// Expiry is the parsed `exp` tag.  Valid only when HasExpiry.
	Expiry time.Time

	// HasExpiry indicates a well-formed `exp` tag was present.
	HasExpiry bool

	// Epoch is the parsed `k` tag.  Valid only when HasEpoch.
	Epoch uint64

	// HasEpoch indicates a well-formed `k` tag was present.
	HasEpoch bool
}

// Extract parses ts into an Extracted view.  Only the first occurrence
// of each recognized tag is used.  Extract never fails.
func Extract(ts nostr.Tags) *Extracted {
	x := new(Extracted)
	for _, tag := range ts {
		if len(tag) < 2 {
			continue
		}
		name, value := tag[0], tag[1]
		switch name {
		case constants.TagPubkey:
			if x.Pubkey == "" {
				x.Pubkey = value
			}
		case constants.TagCiphersuite:
			if x.Ciphersuite == "" {
				x.Ciphersuite = value
			}
		case constants.TagKeyRef:
			if x.KeyRef == "" {
				x.KeyRef = value
			}
		case constants.TagGroupID:
			if x.GroupID == "" {
				x.GroupID = value
			}
		case constants.TagVersion:
			if x.Version == "" {
				x.Version = value
			}
		case constants.TagExpiry:
			if !x.HasExpiry {
				secs, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					continue
				}
				x.Expiry = time.Unix(secs, 0)
				x.HasExpiry = true
			}
		case constants.TagEpoch:
			if !x.HasEpoch {
				epoch, err := strconv.ParseUint(value, 10, 64)
				if err != nil {
					continue
				}
				x.Epoch = epoch
				x.HasEpoch = true
			}
		}
	}
	return x
}
