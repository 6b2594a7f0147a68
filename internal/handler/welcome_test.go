// welcome_test.go - Top-level Welcome rejection tests.
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
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/jab-r/nostr-mls-relay/internal/constants"
)

func TestWelcomeTopLevelRejected(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewWelcome(g)

	// A Welcome is only legal embedded inside a giftwrap; a bare one is
	// rejected no matter how well-formed its tags are.
	ev := testEvent("ev1", "alice", constants.KindWelcome, nostr.Tags{
		{"p", "bob"},
		{"h", "g1"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Handled)
	require.False(d.Accept)
	require.Equal(ReasonWelcomeTopLevel, d.Reason)
}
