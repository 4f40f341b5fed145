// Package jobmetrics instruments maintenance job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	anomalies   *prometheus.CounterVec
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return buildMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return buildMetrics(registerer)
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddAnomalies counts findings of one integrity check.
func (m *Metrics) AddAnomalies(check string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.anomalies.WithLabelValues(check).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Maintenance job runs partitioned by job and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Duration in seconds of maintenance job runs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_anomalies_total",
			Help: "Ledger and stock integrity findings grouped by check.",
		}, []string{"check"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.lastSuccess, m.anomalies)
	return m
}
