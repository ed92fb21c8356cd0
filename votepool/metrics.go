// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package votepool

import (
	"github.com/luxfi/metric"
)

const reasonLabel = "reason"

type metrics struct {
	votes    metric.Gauge
	accepted metric.Counter
	rejected metric.CounterVec
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		votes: metric.NewGauge(metric.GaugeOpts{
			Name: "votepool_votes",
			Help: "Number of votes in the vote pool",
		}),
		accepted: metric.NewCounter(metric.CounterOpts{
			Name: "votepool_accepted",
			Help: "Number of votes accepted into the vote pool",
		}),
		rejected: metric.NewCounterVec(metric.CounterOpts{
			Name: "votepool_rejected",
			Help: "Number of votes rejected by the vote pool",
		}, []string{reasonLabel}),
	}

	err := registerer.Register(metric.AsCollector(m.votes))
	if err != nil {
		return nil, err
	}
	err = registerer.Register(metric.AsCollector(m.accepted))
	if err != nil {
		return nil, err
	}
	err = registerer.Register(metric.AsCollector(m.rejected))
	if err != nil {
		return nil, err
	}

	return m, nil
}
