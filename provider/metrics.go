// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"github.com/luxfi/metric"
)

type metrics struct {
	replayed metric.Counter
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		replayed: metric.NewCounter(metric.CounterOpts{
			Name: "snapshot_headers_replayed",
			Help: "Number of headers applied while rebuilding snapshots",
		}),
	}
	return m, registerer.Register(metric.AsCollector(m.replayed))
}
