package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry shared by both binaries.
	Registry = prometheus.NewRegistry()

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_sync_runs_total", Help: "Integration sync cycles by carrier and status."},
		[]string{"carrier", "status"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "freight_sync_duration_seconds", Help: "Integration sync cycle duration.", Buckets: prometheus.DefBuckets},
		[]string{"carrier"},
	)
	SyncSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_sync_skipped_total", Help: "Sync ticks skipped, by reason."},
		[]string{"reason"},
	)
	UpdatesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_carrier_updates_total", Help: "Carrier updates by processing outcome."},
		[]string{"outcome"},
	)
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_webhook_requests_total", Help: "Inbound webhook requests by result."},
		[]string{"result"},
	)
	DemurrageNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_demurrage_notifications_total", Help: "Demurrage notifications by priority."},
		[]string{"priority"},
	)
	RiskAssessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "freight_risk_assessments_total", Help: "Risk assessments by result."},
		[]string{"result"},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(SyncRuns, SyncDuration, SyncSkipped, UpdatesProcessed,
			WebhookRequests, DemurrageNotifications, RiskAssessments)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
