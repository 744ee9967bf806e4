// Package metrics exposes Prometheus collectors for the audit log and the
// workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all CareFlow collectors. A nil *Metrics is a no-op.
type Metrics struct {
	AuditRecorded     *prometheus.CounterVec
	AuditQueueDepth   prometheus.Gauge
	AuditFlushFailure *prometheus.CounterVec
	AuditEscalations  *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	PhaseExecutions   *prometheus.CounterVec
	ActionFailures    *prometheus.CounterVec
	Advances          *prometheus.CounterVec
}

// New registers the collectors on reg. Use prometheus.DefaultRegisterer in
// production and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_audit_events_recorded_total",
			Help: "Audit events recorded by kind and risk level",
		}, []string{"kind", "risk"}),

		AuditQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "careflow_audit_queue_depth",
			Help: "Audit events waiting for the next flush",
		}),

		AuditFlushFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_audit_flush_failures_total",
			Help: "Failed audit batch writes by error type",
		}, []string{"error_type"}),

		AuditEscalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_audit_escalations_total",
			Help: "Security escalations by reason",
		}, []string{"reason"}),

		IntegrityFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "careflow_audit_integrity_failures_total",
			Help: "Integrity verifications that found a broken chain",
		}),

		PhaseExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_phase_executions_total",
			Help: "Phase executions by phase and result",
		}, []string{"phase", "result"}),

		ActionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_action_failures_total",
			Help: "Failed phase actions by action type",
		}, []string{"action_type"}),

		Advances: f.NewCounterVec(prometheus.CounterOpts{
			Name: "careflow_workflow_advances_total",
			Help: "Workflow advance attempts by outcome",
		}, []string{"outcome"}),
	}
}

// IncAuditRecorded counts a recorded audit event.
func (m *Metrics) IncAuditRecorded(kind, risk string) {
	if m != nil {
		m.AuditRecorded.WithLabelValues(kind, risk).Inc()
	}
}

// SetAuditQueueDepth reports the pending queue size.
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m != nil {
		m.AuditQueueDepth.Set(float64(n))
	}
}

// IncFlushFailure counts a failed batch write attempt.
func (m *Metrics) IncFlushFailure(errorType string) {
	if m != nil {
		m.AuditFlushFailure.WithLabelValues(errorType).Inc()
	}
}

// IncEscalation counts an escalation event.
func (m *Metrics) IncEscalation(reason string) {
	if m != nil {
		m.AuditEscalations.WithLabelValues(reason).Inc()
	}
}

// IncIntegrityFailure counts a failed verification.
func (m *Metrics) IncIntegrityFailure() {
	if m != nil {
		m.IntegrityFailures.Inc()
	}
}

// IncPhaseExecution counts a phase execution.
func (m *Metrics) IncPhaseExecution(phase, result string) {
	if m != nil {
		m.PhaseExecutions.WithLabelValues(phase, result).Inc()
	}
}

// IncActionFailure counts a failed action.
func (m *Metrics) IncActionFailure(actionType string) {
	if m != nil {
		m.ActionFailures.WithLabelValues(actionType).Inc()
	}
}

// IncAdvance counts an advance attempt outcome.
func (m *Metrics) IncAdvance(outcome string) {
	if m != nil {
		m.Advances.WithLabelValues(outcome).Inc()
	}
}
