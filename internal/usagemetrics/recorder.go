package usagemetrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts metering outcomes on a Prometheus registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	admissions    *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	credits       *prometheus.CounterVec
	actions       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	organizations prometheus.Gauge
}

func NewRecorder(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "admissions_total",
			Help:      "Entitlement decisions by plan and outcome.",
		}, []string{"plan", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "usage_version_conflicts_total",
			Help:      "Usage period compare-and-swap conflicts.",
		}, []string{"plan"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "credits_consumed_total",
			Help:      "Credits committed to usage periods.",
		}, []string{"plan"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "actions_consumed_total",
			Help:      "Actions committed to usage periods.",
		}, []string{"plan"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "agent_runs_total",
			Help:      "Agent run requests by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmarket",
			Name:      "billing_webhook_events_total",
			Help:      "Billing provider webhook deliveries by outcome.",
		}, []string{"provider", "outcome"}),
		organizations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentmarket",
			Name:      "organizations",
			Help:      "Number of organizations.",
		}),
	}
	if registry != nil {
		registry.MustRegister(
			r.admissions,
			r.conflicts,
			r.credits,
			r.actions,
			r.runs,
			r.webhookEvents,
			r.organizations,
		)
	}
	return r
}

func (r *Recorder) Admitted(plan string, credits, actions int64) {
	if r == nil {
		return
	}
	plan = normalizeLabel(plan)
	r.admissions.WithLabelValues(plan, "admitted").Inc()
	r.credits.WithLabelValues(plan).Add(float64(credits))
	r.actions.WithLabelValues(plan).Add(float64(actions))
}

func (r *Recorder) Denied(plan, outcome string) {
	if r == nil {
		return
	}
	r.admissions.WithLabelValues(normalizeLabel(plan), normalizeLabel(outcome)).Inc()
}

func (r *Recorder) Conflict(plan string) {
	if r == nil {
		return
	}
	r.conflicts.WithLabelValues(normalizeLabel(plan)).Inc()
}

func (r *Recorder) Run(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (r *Recorder) WebhookEvent(provider, outcome string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (r *Recorder) SetOrganizations(count int64) {
	if r == nil {
		return
	}
	r.organizations.Set(float64(count))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
