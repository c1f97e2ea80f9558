/*
 * SPDX-License-Identifier: AGPL-3.0-only
 *
 * Copyright (c) 2025 sycured
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors, grounded in the teacher's use of
// prometheus/client_golang (spec.md §6 asks only that the core "state what
// must be observable"; the exporter wiring itself is an external
// collaborator, so these are plain counters/histograms with no pushgateway
// or remote-write glue).
var (
	reqCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgforge_requests_total",
		Help: "Total HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status"})

	reqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imgforge_request_duration_seconds",
		Help:    "Request duration in seconds by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	respSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imgforge_response_size_bytes",
		Help:    "Response body size in bytes by route.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	}, []string{"route"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgforge_cache_lookups_total",
		Help: "Cache lookups by outcome (hit/miss/populate_error).",
	}, []string{"outcome"})

	workerPermitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imgforge_worker_permits_in_use",
		Help: "Worker permits currently held (spec.md §4.6's bounded semaphore).",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgforge_rate_limited_total",
		Help: "Requests rejected by the global rate limiter before any fetch/processing work started.",
	})
)

// metricsResponseWriter captures the status code and byte count written,
// since http.ResponseWriter exposes neither after the fact.
type metricsResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (m *metricsResponseWriter) WriteHeader(status int) {
	m.status = status
	m.ResponseWriter.WriteHeader(status)
}

func (m *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := m.ResponseWriter.Write(b)
	m.length += n
	return n, err
}

// metricsMiddleware records per-route request count, duration and response
// size. route should be a low-cardinality label (a fixed name such as "image"),
// never the raw request path, since the image/info routes carry an
// unbounded source URL.
func metricsMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := newMetricsResponseWriter(w)
		next.ServeHTTP(rw, r)

		reqCount.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		reqDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
		respSizeBytes.WithLabelValues(route).Observe(float64(rw.length))
	})
}
