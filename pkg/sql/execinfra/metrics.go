// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the execution engine metrics of one node.
type Metrics struct {
	QueriesStarted         prometheus.Counter
	QueriesClosed          prometheus.Counter
	QueriesFailed          prometheus.Counter
	QueriesRunning         prometheus.Gauge
	RemoteFragmentsStarted prometheus.Counter
	RemoteFragmentsFailed  prometheus.Counter
	CloseRequestsSent      prometheus.Counter
	CloseRequestsFailed    prometheus.Counter
	BatchesSent            prometheus.Counter
	BatchesReceived        prometheus.Counter
	BreakerTrips           prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsql",
			Subsystem: "distsql",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		QueriesStarted: counter("queries_started_total", "Queries started on this coordinator."),
		QueriesClosed:  counter("queries_closed_total", "Queries torn down on this coordinator."),
		QueriesFailed:  counter("queries_failed_total", "Queries that ended with an error."),
		QueriesRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsql",
			Subsystem: "distsql",
			Name:      "queries_running",
			Help:      "Queries currently coordinated by this node.",
		}),
		RemoteFragmentsStarted: counter("remote_fragments_started_total", "Fragments started on behalf of other nodes."),
		RemoteFragmentsFailed:  counter("remote_fragments_failed_total", "Fragments run for other nodes that failed."),
		CloseRequestsSent:      counter("close_requests_sent_total", "Query close notifications sent to remote nodes."),
		CloseRequestsFailed:    counter("close_requests_failed_total", "Query close notifications that could not be delivered."),
		BatchesSent:            counter("exchange_batches_sent_total", "Row batches sent by outboxes."),
		BatchesReceived:        counter("exchange_batches_received_total", "Row batches received by inboxes."),
		BreakerTrips:           counter("breaker_trips_total", "Trips of per-node circuit breakers."),
	}
}
