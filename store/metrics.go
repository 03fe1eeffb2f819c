package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts connection attempts and project creations. A nil *Metrics
// records nothing.
type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	projectCreations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectmanager",
			Name:      "connect_attempts_total",
			Help:      "Database connection attempts by result.",
		}, []string{"result"}),
		projectCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projectmanager",
			Name:      "project_creations_total",
			Help:      "Project creations by result (created, rolled_back, rejected).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connectAttempts, m.projectCreations)
	}
	return m
}

func (m *Metrics) connectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) projectCreation(result string) {
	if m == nil {
		return
	}
	m.projectCreations.WithLabelValues(result).Inc()
}
