// glue.go - Internal glue binding the extension components together.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"github.com/jab-r/nostr-mls-relay/config"
	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/credential"
	"github.com/jab-r/nostr-mls-relay/internal/log"
	"github.com/jab-r/nostr-mls-relay/internal/membership"
	"github.com/jab-r/nostr-mls-relay/internal/ratelimit"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	Credentials() credential.Store
	Membership() membership.Registry
	Archive() archive.Archive
	RateLimiter() *ratelimit.Limiter
}
