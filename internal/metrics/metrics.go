// Package metrics exposes the orchestrator's Prometheus instrumentation:
// session counts, step outcomes, escalation tier usage, and artifact
// upload backlog. Wired as a SPEC_FULL.md ambient-stack concern; no
// counterpart exists in the distilled spec.md, which scopes metrics out of
// its narrative, but the teacher's domain dependency set (client_golang) is
// carried forward per the "ambient concerns are carried even when a
// Non-goal names one" rule.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "sessions_open",
		Help:      "Number of currently live browser sessions.",
	})

	StepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "steps_total",
		Help:      "Steps executed, labeled by kind and status.",
	}, []string{"kind", "status"})

	EscalationTierUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "escalation_tier_used_total",
		Help:      "Escalation resolutions, labeled by tier level.",
	}, []string{"level"})

	EscalationCost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "escalation_cost_total",
		Help:      "Cumulative estimated cost of vision-tier escalations.",
	})

	ArtifactUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "artifact_uploads_total",
		Help:      "Artifact upload attempts, labeled by outcome.",
	}, []string{"outcome"})

	ArtifactUploadBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "artifact_upload_backlog",
		Help:      "Artifacts currently pending or retrying upload.",
	})

	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "websocket_connections",
		Help:      "Currently connected streaming-channel observers.",
	})

	WebsocketDroppedSlow = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "websocket_dropped_slow_total",
		Help:      "Observer connections dropped for failing to drain their outbound queue.",
	})
)

// Register adds every collector to reg. Call once at process startup.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		SessionsOpen,
		StepsTotal,
		EscalationTierUsed,
		EscalationCost,
		ArtifactUploadsTotal,
		ArtifactUploadBacklog,
		WebsocketConnections,
		WebsocketDroppedSlow,
	)
}
