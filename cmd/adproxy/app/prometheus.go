// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 3000}
	prometheusMW   prometheusMiddleware
)

const (
	manifestReqsName    = "manifest_requests_total"
	manifestLatencyName = "manifest_request_duration_milliseconds"
	fallbackReqsName    = "ad_fallback_total"
	service             = "adproxy"
)

// prometheusMiddleware exposes request-count and latency metrics for
// manifest requests, partitioned by status code (spec.md §7: "log and
// metric" on OriginUnavailable/DecisionUnavailable).
type prometheusMiddleware struct {
	manifestReqs    *prometheus.CounterVec
	manifestLatency *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
}

func init() {
	prometheusMW.manifestReqs = newCounter(manifestReqsName,
		"Number of manifest requests processed, partitioned by status code.", service, "code")
	prometheusMW.manifestLatency = newHistogram(manifestLatencyName,
		"Manifest response latency.", service, defaultBuckets, "code")
	prometheusMW.fallbacks = newCounter(fallbackReqsName,
		"Number of rewrites that fell back to a degraded path, partitioned by reason.", service, "reason")
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6

		if !strings.HasSuffix(path, ".m3u8") {
			return
		}
		mw.manifestReqs.WithLabelValues(status).Inc()
		mw.manifestLatency.WithLabelValues(status).Observe(latencyMS)
	}
	return http.HandlerFunc(fn)
}

// recordFallback increments the fallback counter for reason (a no-op for
// reasonNone, since that's the non-fallback path).
func recordFallback(reason fallbackReason) {
	if reason == reasonNone {
		return
	}
	prometheusMW.fallbacks.WithLabelValues(string(reason)).Inc()
}

func newCounter(counterName, help, serviceName, label string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{label},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64, label string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{label},
	)
	prometheus.MustRegister(h)
	return h
}
