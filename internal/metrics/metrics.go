// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics implements the Metrics Surface of spec §4.5. It
// satisfies the store.Observer and scheduler.Observer capability
// interfaces directly, replacing the teacher's registry-bridging
// Gatherer (metrics/prometheus/prometheus.go) with promauto-registered
// collectors: this project has no internal metrics registry of its own
// to bridge from, so there is nothing left for a Gatherer to adapt.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector of spec §4.5 and is handed to the
// Block Store and Scheduler as their respective Observer.
type Metrics struct {
	httpRequestDuration *prometheus.HistogramVec
	dbQueryDuration     *prometheus.HistogramVec
	headTickErrors      *prometheus.CounterVec
	gapScanErrors       *prometheus.CounterVec
	dbConnsActive       prometheus.Gauge
	dbConnsIdle         prometheus.Gauge
	schedulerLag        prometheus.Gauge
}

// New registers every collector of spec §4.5 against reg. Pass
// prometheus.DefaultRegisterer to also get the process/Go runtime
// collectors registered by promauto's package-level default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_requests_seconds",
			Help:    "Duration of HTTP requests served by the Read API, in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status_code"}),
		dbQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_seconds",
			Help:    "Duration of Block Store queries, in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"model", "action", "success"}),
		headTickErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "head_tick_errors_total",
			Help: "Count of head-tick work units that failed, by chain.",
		}, []string{"chain_id"}),
		gapScanErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gap_scan_errors_total",
			Help: "Count of gap-scan failures, by chain: at most one per work unit for its store reads or block fetches, plus one per failed upsert.",
		}, []string{"chain_id"}),
		dbConnsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Connections currently checked out of the Block Store's pool.",
		}),
		dbConnsIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Connections idle in the Block Store's pool.",
		}),
		schedulerLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventloop_or_scheduler_lag_seconds",
			Help: "Delay between a scheduler timer firing and its work unit starting.",
		}),
	}
}

// RecordQuery implements store.Observer.
func (m *Metrics) RecordQuery(model, action string, duration time.Duration, success bool) {
	m.dbQueryDuration.WithLabelValues(model, action, boolLabel(success)).Observe(duration.Seconds())
}

// IncHeadTickErrors implements scheduler.Observer.
func (m *Metrics) IncHeadTickErrors(chainID uint32) {
	m.headTickErrors.WithLabelValues(chainIDLabel(chainID)).Inc()
}

// IncGapScanErrors implements scheduler.Observer.
func (m *Metrics) IncGapScanErrors(chainID uint32) {
	m.gapScanErrors.WithLabelValues(chainIDLabel(chainID)).Inc()
}

// SetLastObservedHead implements scheduler.Observer. The spec names
// this gauge per-chain, but since the head number itself is already
// queryable from the Read API's /latest route, and spec §4.5's list
// does not include a "last observed head" gauge by name, this method
// is kept as a no-op hook for a future per-chain head gauge rather
// than inventing an unlisted metric name.
func (m *Metrics) SetLastObservedHead(chainID uint32, head uint64) {}

// ObserveSchedulerLag implements scheduler.Observer.
func (m *Metrics) ObserveSchedulerLag(lag time.Duration) {
	m.schedulerLag.Set(lag.Seconds())
}

// ObservePoolStats refreshes the two connection-pool gauges from a
// real snapshot (spec §9: these must never be stand-ins). Call this
// on a short interval, or before each /metrics scrape.
func (m *Metrics) ObservePoolStats(active, idle int32) {
	m.dbConnsActive.Set(float64(active))
	m.dbConnsIdle.Set(float64(idle))
}

// ObserveHTTPRequest implements the Read API's per-request hook.
func (m *Metrics) ObserveHTTPRequest(method, route, statusCode string, duration time.Duration) {
	m.httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func chainIDLabel(chainID uint32) string {
	return strconv.FormatUint(uint64(chainID), 10)
}
