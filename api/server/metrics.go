// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"time"

	"github.com/luxfi/metric"

	"github.com/luxfi/parlia/utils/wrappers"
)

const (
	methodLabel   = "method"
	endpointLabel = "endpoint"
)

type serverMetrics struct {
	requests    metric.CounterVec
	durationSum metric.GaugeVec
	inflight    metric.Gauge
}

func newMetrics(registerer metric.Registerer) (*serverMetrics, error) {
	labels := []string{methodLabel, endpointLabel}
	m := &serverMetrics{
		requests: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			labels,
		),
		durationSum: metric.NewGaugeVec(
			metric.GaugeOpts{
				Name: "http_request_duration_sum",
				Help: "Time in nanoseconds spent serving HTTP requests",
			},
			labels,
		),
		inflight: metric.NewGauge(metric.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Number of inflight HTTP requests",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.requests)),
		registerer.Register(metric.AsCollector(m.durationSum)),
		registerer.Register(metric.AsCollector(m.inflight)),
	)
	return m, errs.Err
}

func (m *serverMetrics) wrapHandler(endpoint string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		labels := metric.Labels{
			methodLabel:   r.Method,
			endpointLabel: endpoint,
		}
		m.requests.With(labels).Inc()
		m.inflight.Inc()
		defer m.inflight.Dec()

		start := time.Now()
		handler.ServeHTTP(w, r)
		m.durationSum.With(labels).Add(float64(time.Since(start)))
	})
}
