package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts scheduled runs by job and result.
type Metrics struct {
	runs      *prometheus.CounterVec
	scheduled prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activity_tracker",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by result.",
		}, []string{"job", "result"}),
		scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "activity_tracker",
			Name:      "jobs_scheduled",
			Help:      "Number of registered periodic jobs.",
		}),
	}

	if reg != nil {
		if err := reg.Register(m.runs); err != nil {
			return nil, err
		}
		if err := reg.Register(m.scheduled); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordRun(job string, r Result) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, r.String()).Inc()
}

func (m *Metrics) setScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}
