// prometheus.go - Prometheus instrumentation.
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

// Package instrument exposes the extension's prometheus metrics.
package instrument

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlsrelay_events_received_total",
			Help: "Number of extension events received, by kind",
		},
		[]string{"kind"},
	)
	eventsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlsrelay_events_accepted_total",
			Help: "Number of extension events accepted, by kind",
		},
		[]string{"kind"},
	)
	eventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlsrelay_events_rejected_total",
			Help: "Number of extension events rejected, by reason",
		},
		[]string{"reason"},
	)
	epochAdvances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_epoch_advances_total",
			Help: "Number of group epoch advances",
		},
	)
	envelopesArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_envelopes_archived_total",
			Help: "Number of envelopes written to the archive",
		},
	)
	duplicatesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_duplicates_suppressed_total",
			Help: "Number of duplicate envelopes suppressed by event id",
		},
	)
	archiveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_archive_failures_total",
			Help: "Number of best-effort archive writes that failed",
		},
	)
	credentialsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_credentials_purged_total",
			Help: "Number of expired credentials purged by the cleanup job",
		},
	)
	envelopesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlsrelay_envelopes_purged_total",
			Help: "Number of expired envelopes purged by the cleanup job",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsReceived,
		eventsAccepted,
		eventsRejected,
		epochAdvances,
		envelopesArchived,
		duplicatesSuppressed,
		archiveFailures,
		credentialsPurged,
		envelopesPurged,
	)
}

// StartPrometheusListener exposes the registered metrics over HTTP.
func StartPrometheusListener(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("Prometheus listener failed: %v", err)
		}
	}()
}

// EventReceived increments the received counter for the given kind.
func EventReceived(kind int) {
	eventsReceived.With(prometheus.Labels{"kind": strconv.Itoa(kind)}).Inc()
}

// EventAccepted increments the accepted counter for the given kind.
func EventAccepted(kind int) {
	eventsAccepted.With(prometheus.Labels{"kind": strconv.Itoa(kind)}).Inc()
}

// EventRejected increments the rejected counter for the given reason.
func EventRejected(reason string) {
	eventsRejected.With(prometheus.Labels{"reason": reason}).Inc()
}

// EpochAdvanced increments the epoch advance counter.
func EpochAdvanced() {
	epochAdvances.Inc()
}

// EnvelopeArchived increments the archived envelope counter.
func EnvelopeArchived() {
	envelopesArchived.Inc()
}

// DuplicateSuppressed increments the suppressed duplicate counter.
func DuplicateSuppressed() {
	duplicatesSuppressed.Inc()
}

// ArchiveFailure increments the best-effort archive failure counter.
func ArchiveFailure() {
	archiveFailures.Inc()
}

// CredentialsPurged adds to the purged credential counter.
func CredentialsPurged(n int) {
	credentialsPurged.Add(float64(n))
}

// EnvelopesPurged adds to the purged envelope counter.
func EnvelopesPurged(n int) {
	envelopesPurged.Add(float64(n))
}
