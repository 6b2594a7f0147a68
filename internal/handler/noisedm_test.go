// noisedm_test.go - Noise DM handler tests.
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

	"github.com/jab-r/nostr-mls-relay/internal/archive"
	"github.com/jab-r/nostr-mls-relay/internal/constants"
)

func TestNoiseDMAccept(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewNoiseDM(g)

	ev := testEvent("ev1", "alice", constants.KindNoiseDM, nostr.Tags{
		{"p", "bob"},
		{"v", "noise.1"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Accept)
	require.False(d.Broadcast)
	require.Equal([]string{"bob"}, d.Recipients)

	count := 0
	require.NoError(g.archive.ForEachInScope("bob", func(e *archive.Envelope) error {
		count++
		require.Equal("ev1", e.MessageID)
		return nil
	}))
	require.Equal(1, count)
}

func TestNoiseDMUnsupportedVersion(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewNoiseDM(g)

	ev := testEvent("ev1", "alice", constants.KindNoiseDM, nostr.Tags{
		{"p", "bob"},
		{"v", "noise.99"},
	})
	d := dispatch(t, h, ev)
	require.False(d.Accept)
	require.Equal(ReasonUnsupportedVersion, d.Reason)

	// A missing version marker is likewise not gateable.
	ev.Tags = ev.Tags[:1]
	d = dispatch(t, h, ev)
	require.Equal(ReasonUnsupportedVersion, d.Reason)
}

func TestNoiseDMMissingRecipient(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewNoiseDM(g)

	ev := testEvent("ev1", "alice", constants.KindNoiseDM, nostr.Tags{
		{"v", "noise.1"},
	})
	d := dispatch(t, h, ev)
	require.Equal(ReasonMissingRecipient, d.Reason)
}

func TestNoiseDMConfiguredVersions(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	g.cfg.Noise.SupportedVersions = []string{"noise.1", "noise.2"}
	h := NewNoiseDM(g)

	ev := testEvent("ev1", "alice", constants.KindNoiseDM, nostr.Tags{
		{"p", "bob"},
		{"v", "noise.2"},
	})
	require.True(dispatch(t, h, ev).Accept)
}
