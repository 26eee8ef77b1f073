// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes Prometheus metrics for the upsert service.
//
// Labels are bounded (outcome, route pattern, method, status); idempotency keys
// are never used as label values.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsert_resolutions_total",
		Help: "Total successful idempotency resolutions by outcome (mint or replay)",
	}, []string{"outcome"})
	conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsert_conflicts_total",
		Help: "Total strict-mode replays rejected because the resource id differed",
	})
	storeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsert_store_errors_total",
		Help: "Total resolutions that failed on the idempotency store backend",
	})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upsert_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(resolutionsTotal, conflictsTotal, storeErrorsTotal, requestDuration)
}

// ObserveResolution counts a resolution under its outcome label.
func ObserveResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveConflict counts a rejected strict-mode replay.
func ObserveConflict() { conflictsTotal.Inc() }

// ObserveStoreError counts a store backend failure.
func ObserveStoreError() { storeErrorsTotal.Inc() }

// ObserveRequest records the latency of one HTTP request.
func ObserveRequest(route, method string, status int, d time.Duration) {
	requestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
