// groupmessage_test.go - Group message handler tests.
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

func TestGroupMessageMissingGroupID(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewGroupMessage(g)

	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{})
	d := dispatch(t, h, ev)
	require.False(d.Accept)
	require.Equal(ReasonMissingGroupID, d.Reason)
}

func TestGroupMessageUnknownGroup(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewGroupMessage(g)

	// Unknown group, no epoch declared.
	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "nope"},
	})
	d := dispatch(t, h, ev)
	require.Equal(ReasonUnknownGroup, d.Reason)

	// Unknown group with a declared epoch fails the same way; the
	// observation must never create the group.
	ev.Tags = append(ev.Tags, nostr.Tag{"k", "3"})
	d = dispatch(t, h, ev)
	require.Equal(ReasonUnknownGroup, d.Reason)
	_, err := g.membership.Members("nope")
	require.Error(err)
}

func TestGroupMessageEpochFold(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewGroupMessage(g)

	require.NoError(g.membership.AddMember("g1", "alice"))
	require.NoError(g.membership.AddMember("g1", "bob"))
	_, _, err := g.membership.ObserveEpoch("g1", 3)
	require.NoError(err)

	// A higher declared epoch advances the stored one.
	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "g1"},
		{"k", "5"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Accept)
	require.ElementsMatch([]string{"alice", "bob"}, d.Recipients)

	grp, err := g.membership.Snapshot("g1")
	require.NoError(err)
	require.Equal(uint64(5), grp.Epoch)

	// A stale epoch is a legal replay and never rewinds.
	ev2 := testEvent("ev2", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "g1"},
		{"k", "2"},
	})
	d = dispatch(t, h, ev2)
	require.True(d.Accept)

	grp, err = g.membership.Snapshot("g1")
	require.NoError(err)
	require.Equal(uint64(5), grp.Epoch)

	// The traffic is archived under the group's scope.
	count := 0
	require.NoError(g.archive.ForEachInScope("g1", func(e *archive.Envelope) error {
		count++
		return nil
	}))
	require.Equal(2, count)
}

func TestGroupMessageNoEpochTag(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewGroupMessage(g)

	require.NoError(g.membership.AddMember("g1", "alice"))

	// Application traffic without an epoch declaration is fine.
	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "g1"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Accept)
	require.Equal([]string{"alice"}, d.Recipients)
}

func TestGroupMessageSenderDeliveredByDefault(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	h := NewGroupMessage(g)

	require.NoError(g.membership.AddMember("g1", "alice"))
	require.NoError(g.membership.AddMember("g1", "bob"))

	// A default configuration keeps the sender in the recipient set.
	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "g1"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Accept)
	require.ElementsMatch([]string{"alice", "bob"}, d.Recipients)
}

func TestGroupMessageSenderFiltered(t *testing.T) {
	require := require.New(t)
	g := newTestGlue(t)
	g.cfg.Server.OmitSenderDelivery = true
	h := NewGroupMessage(g)

	require.NoError(g.membership.AddMember("g1", "alice"))
	require.NoError(g.membership.AddMember("g1", "bob"))

	ev := testEvent("ev1", "alice", constants.KindGroupMessage, nostr.Tags{
		{"h", "g1"},
	})
	d := dispatch(t, h, ev)
	require.True(d.Accept)
	require.Equal([]string{"bob"}, d.Recipients)
}
