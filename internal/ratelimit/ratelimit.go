// ratelimit.go - Sliding-window admission control.
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

// Package ratelimit implements sliding-window admission control keyed
// by (pubkey, category).  Counters are process-local, approximate, and
// never touch the persistence backend: the limiter's job is abuse
// damping, not billing.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jab-r/nostr-mls-relay/config"
)

// Category identifies an independently limited submission class.
type Category int

const (
	// CategoryAggregate covers all extension event volume per pubkey.
	CategoryAggregate Category = iota

	// CategoryKeyPackage covers identity credential submissions.
	CategoryKeyPackage

	// CategoryGroupMessage covers encrypted group traffic.
	CategoryGroupMessage
)

// counter is a two-bucket sliding window: the previous window's count
// is weighted by its remaining overlap with the sliding span, which
// approximates a true sliding log at constant memory.
type counter struct {
	windowStart time.Time
	prev        int
	cur         int
}

// Limiter is a sliding-window rate limiter.
type Limiter struct {
	sync.Mutex

	window time.Duration
	limits map[Category]int

	counters *lru.Cache[string, *counter]
	nowFn    func() time.Time
}

func counterKey(pubkey string, cat Category) string {
	return fmt.Sprintf("%d/%s", cat, pubkey)
}

// Allow records an attempt for (pubkey, cat) and returns true iff it
// is within the window's quota.
func (l *Limiter) Allow(pubkey string, cat Category) bool {
	limit, ok := l.limits[cat]
	if !ok || limit <= 0 {
		return true
	}

	now := l.nowFn()

	l.Lock()
	defer l.Unlock()

	key := counterKey(pubkey, cat)
	c, ok := l.counters.Get(key)
	if !ok {
		c = &counter{windowStart: now}
		l.counters.Add(key, c)
	}

	elapsed := now.Sub(c.windowStart)
	switch {
	case elapsed >= 2*l.window:
		c.windowStart = now
		c.prev = 0
		c.cur = 0
	case elapsed >= l.window:
		c.windowStart = c.windowStart.Add(l.window)
		c.prev = c.cur
		c.cur = 0
		elapsed -= l.window
	}

	weight := 1.0 - float64(elapsed)/float64(l.window)
	estimate := float64(c.cur) + weight*float64(c.prev)
	if estimate >= float64(limit) {
		return false
	}
	c.cur++
	return true
}

// New constructs a Limiter from the limits configuration.
func New(cfg *config.Limits) (*Limiter, error) {
	counters, err := lru.New[string, *counter](cfg.MaxTrackedKeys)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		window: time.Duration(cfg.WindowSeconds) * time.Second,
		limits: map[Category]int{
			CategoryAggregate:    cfg.EventsPerWindow,
			CategoryKeyPackage:   cfg.KeyPackagesPerWindow,
			CategoryGroupMessage: cfg.GroupMessagesPerWindow,
		},
		counters: counters,
		nowFn:    time.Now,
	}, nil
}
