// cleanup.go - Expiry vacuum job.
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

// Package cleanup implements the scheduled expiry vacuum over the
// credential store and the message archive.  The job is batch, not
// request-triggered: it is safe to run concurrently with live traffic
// (all deletions are keyed) and safe to re-run after partial failure.
package cleanup

import (
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/jab-r/nostr-mls-relay/internal/glue"
	"github.com/jab-r/nostr-mls-relay/internal/instrument"
	"github.com/jab-r/nostr-mls-relay/internal/worker"

	"golang.org/x/sync/errgroup"
)

// Vacuum is the cleanup job.
type Vacuum struct {
	worker.Worker

	glue glue.Glue
	log  *logging.Logger
}

// New constructs a Vacuum.
func New(g glue.Glue) *Vacuum {
	return &Vacuum{
		glue: g,
		log:  g.LogBackend().GetLogger("cleanup"),
	}
}

// Once runs a single vacuum pass at the given time, sweeping the
// credential store and the message archive concurrently.  Each sweep
// buffers at most Cleanup.BatchSize deletions; a backlog beyond that
// drains over subsequent passes.  Single-record deletion failures are
// logged by the stores and never abort the pass; only scan-level
// failures surface here.  A Halt during the pass stops it early
// without error; correctness resumes on the next run.
func (v *Vacuum) Once(now time.Time) (credPurged, envPurged int, err error) {
	start := time.Now()
	batch := v.glue.Config().Cleanup.BatchSize

	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		credPurged, err = v.glue.Credentials().Vacuum(now, batch, v.HaltCh())
		return err
	})
	eg.Go(func() error {
		var err error
		envPurged, err = v.glue.Archive().Vacuum(now, batch, v.HaltCh())
		return err
	})
	if err = eg.Wait(); err != nil {
		return 0, 0, err
	}

	instrument.CredentialsPurged(credPurged)
	instrument.EnvelopesPurged(envPurged)
	v.log.Noticef("Vacuumed %d credentials, %d envelopes in %v", credPurged, envPurged, time.Since(start))
	return credPurged, envPurged, nil
}

// StartWorker starts the periodic in-process vacuum loop.  Deployments
// that schedule vacuuming out-of-process leave the interval at 0 and
// call Once via the maintenance binary instead.
func (v *Vacuum) StartWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	v.Go(func() { v.worker(interval) })
}

func (v *Vacuum) worker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.HaltCh():
			v.log.Debugf("Terminating gracefully.")
			return
		case <-ticker.C:
			if _, _, err := v.Once(time.Now()); err != nil {
				v.log.Errorf("Vacuum pass failed: %v", err)
			}
		}
	}
}
