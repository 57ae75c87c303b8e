// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
)

const namespace = "rigrun_chat"

// Send outcomes recorded in the sends_total counter.
const (
	OutcomeOK = "ok"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the process collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sends       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	inFlight    prometheus.Gauge
	turnSeconds prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time
	failed  map[string]bool
	now     func() time.Time
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Completed sends by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sends_in_flight",
			Help:      "Sends currently sending or streaming.",
		}),
		turnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from send to the end of the stream.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API latency. Streaming sends are included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		started: make(map[string]time.Time),
		failed:  make(map[string]bool),
		now:     time.Now,
	}

	m.registry.MustRegister(
		m.sends,
		m.transitions,
		m.inFlight,
		m.turnSeconds,
		m.httpRequests,
		m.httpSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records an orchestrator state transition. A turn is
// Idle -> Sending [-> Streaming] [-> Error] -> Idle; it is counted once,
// when it returns to Idle.
func (m *Metrics) Observe(t chat.Transition) {
	m.transitions.WithLabelValues(t.From.String(), t.To.String()).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case t.To == chat.StateSending:
		m.started[t.SessionID] = m.now()
		delete(m.failed, t.SessionID)
		m.inFlight.Inc()

	case t.To == chat.StateError:
		m.failed[t.SessionID] = true
		m.sends.WithLabelValues(cloud.Classify(t.Err).String()).Inc()

	case t.To == chat.StateIdle:
		start, ok := m.started[t.SessionID]
		if !ok {
			return
		}
		delete(m.started, t.SessionID)
		m.inFlight.Dec()
		m.turnSeconds.Observe(m.now().Sub(start).Seconds())
		if !m.failed[t.SessionID] {
			m.sends.WithLabelValues(OutcomeOK).Inc()
		}
		delete(m.failed, t.SessionID)
	}
}

// ObserveHTTP records one HTTP API request. route is the mux pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
