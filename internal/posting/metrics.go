package posting

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Metrics exposes Prometheus collectors for posting outcomes.
type Metrics struct {
	postings *prometheus.CounterVec
	duration *prometheus.HistogramVec
	journals *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the posting metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// observe records one posting. A posting whose enclosing transaction rolled
// back counts as rolled_back. Safe on a nil receiver.
func (m *Metrics) observe(kind EventKind, res Result, elapsed time.Duration, committed bool, err error) {
	if m == nil {
		return
	}
	label := outcome(err)
	if err == nil && !committed {
		label = "rolled_back"
	}
	m.postings.WithLabelValues(string(kind), label).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if label == "success" && len(res.Journals) > 0 {
		m.journals.WithLabelValues(string(kind)).Add(float64(len(res.Journals)))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrUnbalanced):
		return "unbalanced"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	}
	return "error"
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_postings_total",
		Help: "Total posting attempts partitioned by event and outcome.",
	}, []string{"event", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_posting_duration_seconds",
		Help:    "Duration in seconds of posting transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
	journals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_journals_posted_total",
		Help: "Journals written by the posting engine per event.",
	}, []string{"event"})
	registerer.MustRegister(postings, duration, journals)
	return &Metrics{postings: postings, duration: duration, journals: journals}
}
