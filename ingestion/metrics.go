package ingestion

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	papers         *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	exportFailures prometheus.Counter
	batchDuration  prometheus.Histogram
}

// newMetrics builds the pipeline's collectors and registers them with reg when it is not nil.
// Collectors already registered by another pipeline are shared.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		papers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Subsystem: "ingestion",
			Name:      "papers_total",
			Help:      "Papers processed, by outcome.",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Subsystem: "ingestion",
			Name:      "stage_failures_total",
			Help:      "Stage failures, fatal or recoverable, by stage.",
		}, []string{"stage"}),
		exportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "athena",
			Subsystem: "ingestion",
			Name:      "export_failures_total",
			Help:      "Knowledge-base exports that failed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "athena",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.papers, err = register(reg, m.papers); err != nil {
		return nil, err
	}
	if m.stageFailures, err = register(reg, m.stageFailures); err != nil {
		return nil, err
	}
	if m.exportFailures, err = register(reg, m.exportFailures); err != nil {
		return nil, err
	}
	if m.batchDuration, err = register(reg, m.batchDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(report *BatchReport) {
	for _, p := range report.Papers {
		m.papers.WithLabelValues(p.Outcome.String()).Inc()
		if p.Failure != nil {
			m.stageFailures.WithLabelValues(p.Failure.Stage.String()).Inc()
		}
		for _, f := range p.Partial {
			m.stageFailures.WithLabelValues(f.Stage.String()).Inc()
		}
	}
	m.batchDuration.Observe(report.Finished.Sub(report.Started).Seconds())
}
