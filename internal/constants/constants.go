// constants.go - MLS/Noise relay extension protocol constants.
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

// Package constants defines the event kinds, tag names, and storage
// collection names owned by the MLS/Noise relay extension.
package constants

const (
	// KindKeyPackage is the published identity credential event kind.
	KindKeyPackage = 443

	// KindWelcome is the embedded Welcome payload kind.  Welcomes only
	// ever ride inside a Giftwrap; a top-level 444 is a protocol error.
	KindWelcome = 444

	// KindGroupMessage is the encrypted group traffic event kind.
	KindGroupMessage = 445

	// KindNoiseDM is the pairwise Noise transport event kind.
	KindNoiseDM = 446

	// KindGiftwrap is the opaque onboarding envelope event kind.
	KindGiftwrap = 1059
)

// Storage collection names shared by the stores and the cleanup job.
const (
	CollectionCredentials = "credentials"
	CollectionGroups      = "groups"
	CollectionArchive     = "archive"
	CollectionSeen        = "seen"
)

// Tag names recognized by the tag extractor.
const (
	TagPubkey      = "p"
	TagCiphersuite = "cs"
	TagKeyRef      = "kpr"
	TagExpiry      = "exp"
	TagGroupID     = "h"
	TagEpoch       = "k"
	TagVersion     = "v"
)

// IsExtensionKind returns true iff the extension owns the given event
// kind.  Events of any other kind pass through the host relay untouched.
func IsExtensionKind(kind int) bool {
	switch kind {
	case KindKeyPackage, KindWelcome, KindGroupMessage, KindNoiseDM, KindGiftwrap:
		return true
	default:
		return false
	}
}
