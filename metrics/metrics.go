// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"time"

	"github.com/luxfi/metric"

	"github.com/luxfi/parlia/utils/wrappers"
)

const (
	ResultLabel = "result"
	Accepted    = "accepted"
	Rejected    = "rejected"
)

var (
	acceptedLabels = metric.Labels{
		ResultLabel: Accepted,
	}
	rejectedLabels = metric.Labels{
		ResultLabel: Rejected,
	}

	_ Metrics = (*metricsImpl)(nil)
)

type Metrics interface {
	// Mark that a header passed or failed verification.
	MarkVerified(err error)

	// Mark that a block was sealed after waiting for the given time.
	MarkSealed(delay time.Duration, attested bool)
	// Mark that a sealing attempt gave up its slot.
	MarkSealFailed()

	// Mark the justified and finalized heights of the head.
	SetJustified(number uint64)
	SetFinalized(number uint64)
}

func New(registerer metric.Registerer) (Metrics, error) {
	m := &metricsImpl{
		headersVerified: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "headers_verified",
				Help: "Number of headers verified",
			},
			[]string{ResultLabel},
		),
		blocksSealed: metric.NewCounter(metric.CounterOpts{
			Name: "blocks_sealed",
			Help: "Number of blocks sealed by the local validator",
		}),
		sealsFailed: metric.NewCounter(metric.CounterOpts{
			Name: "seals_failed",
			Help: "Number of slots the local validator gave up",
		}),
		attestations: metric.NewCounter(metric.CounterOpts{
			Name: "attestations_assembled",
			Help: "Number of sealed blocks carrying a vote attestation",
		}),
		sealDelay: metric.NewGauge(metric.GaugeOpts{
			Name: "seal_delay_sum",
			Help: "Total time spent waiting for slots in nanoseconds",
		}),
		justified: metric.NewGauge(metric.GaugeOpts{
			Name: "justified_number",
			Help: "Height of the latest justified block",
		}),
		finalized: metric.NewGauge(metric.GaugeOpts{
			Name: "finalized_number",
			Help: "Height of the latest finalized block",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.headersVerified)),
		registerer.Register(metric.AsCollector(m.blocksSealed)),
		registerer.Register(metric.AsCollector(m.sealsFailed)),
		registerer.Register(metric.AsCollector(m.attestations)),
		registerer.Register(metric.AsCollector(m.sealDelay)),
		registerer.Register(metric.AsCollector(m.justified)),
		registerer.Register(metric.AsCollector(m.finalized)),
	)
	return m, errs.Err
}

type metricsImpl struct {
	headersVerified metric.CounterVec

	blocksSealed metric.Counter
	sealsFailed  metric.Counter
	attestations metric.Counter
	sealDelay    metric.Gauge

	// Finality
	justified metric.Gauge
	finalized metric.Gauge
}

func (m *metricsImpl) MarkVerified(err error) {
	if err != nil {
		m.headersVerified.With(rejectedLabels).Inc()
		return
	}
	m.headersVerified.With(acceptedLabels).Inc()
}

func (m *metricsImpl) MarkSealed(delay time.Duration, attested bool) {
	m.blocksSealed.Inc()
	m.sealDelay.Add(float64(delay))
	if attested {
		m.attestations.Inc()
	}
}

func (m *metricsImpl) MarkSealFailed() {
	m.sealsFailed.Inc()
}

func (m *metricsImpl) SetJustified(number uint64) {
	m.justified.Set(float64(number))
}

func (m *metricsImpl) SetFinalized(number uint64) {
	m.finalized.Set(float64(number))
}
