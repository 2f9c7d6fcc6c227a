package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts sweep outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs    *prometheus.CounterVec
	removed *prometheus.CounterVec
	skips   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeguides",
			Subsystem: "sweeper",
			Name:      "task_runs_total",
			Help:      "Sweep task runs by task and outcome.",
		}, []string{"task", "outcome"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeguides",
			Subsystem: "sweeper",
			Name:      "rows_removed_total",
			Help:      "Rows deleted by sweep tasks.",
		}, []string{"task"}),
		skips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codeguides",
			Subsystem: "sweeper",
			Name:      "skipped_total",
			Help:      "Sweeps skipped because another run held the guard or lock.",
		}),
	}
	reg.MustRegister(m.runs, m.removed, m.skips)
	return m
}

func (m *Metrics) observe(task string, removed int64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(task, outcome).Inc()
	if removed > 0 {
		m.removed.WithLabelValues(task).Add(float64(removed))
	}
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.skips.Inc()
}
