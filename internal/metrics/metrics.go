// Package metrics holds the prometheus collectors of the agent.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ClaimsLeased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_claims_leased_total",
		Help: "Claims leased, by holder",
	}, []string{"holder"})

	ClaimsReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_claims_released_total",
		Help: "Claims whose lease was released before completion, by holder",
	}, []string{"holder"})

	ClaimsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_claims_enqueued_total",
		Help: "Claims accepted by the backend queue",
	})

	ClaimsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_claims_failed_total",
		Help: "Claims marked failed, by whether a retry was scheduled",
	}, []string{"retry"})

	ClaimsStaged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_claims_staged_total",
		Help: "Claims staged from extracted bundles",
	})

	Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_dispatches_total",
		Help: "Completed dispatches, by type and status",
	}, []string{"type", "status"})

	SendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "claimship_send_duration_seconds",
		Help:    "Duration of backend send calls",
		Buckets: prometheus.DefBuckets,
	})

	AttachmentUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_attachment_uploads_total",
		Help: "Attachment upload outcomes",
	}, []string{"status"})

	MappingsPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimship_mappings_posted_total",
		Help: "Missing domain mapping post outcomes",
	}, []string{"status"})

	RecoveredClaims = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_recovered_claims_total",
		Help: "Claims restored from expired leases by crash recovery",
	})

	RecoveredDispatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_recovered_dispatches_total",
		Help: "In-flight dispatches failed by crash recovery",
	})

	APICallsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_api_calls_written_total",
		Help: "API call records persisted",
	})

	APICallsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimship_api_calls_dropped_total",
		Help: "API call records dropped because the queue was full or the write failed",
	})

	ActiveBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "claimship_active_batches",
		Help: "Batches currently registered to a worker",
	})
)

// Register adds every collector to the default registry. It is safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ClaimsLeased,
			ClaimsReleased,
			ClaimsEnqueued,
			ClaimsFailed,
			ClaimsStaged,
			Dispatches,
			SendDuration,
			AttachmentUploads,
			MappingsPosted,
			RecoveredClaims,
			RecoveredDispatches,
			APICallsWritten,
			APICallsDropped,
			ActiveBatches,
		)
	})
}

// Handler exposes /metrics with the collectors registered.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
