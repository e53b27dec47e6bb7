package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued      = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_enqueued_total", Help: "Report jobs enqueued"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_completed_total", Help: "Report jobs completed"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_failed_total", Help: "Report job attempts that failed"})
	JobsReclaimed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_reclaimed_total", Help: "Jobs reclaimed from stale locks"})
	PaymentsConfirmed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_confirmed_total", Help: "Payments confirmed by source"}, []string{"source"})
	WebhooksRejected  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payment_webhooks_rejected_total", Help: "Webhooks rejected by signature check"}, []string{"provider"})
	LLMRequests       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "llm_requests_total", Help: "LLM requests by provider and outcome"}, []string{"provider", "outcome"})
	QueueDepth        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_jobs_queue_depth", Help: "Pending report jobs"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			JobsReclaimed,
			PaymentsConfirmed,
			WebhooksRejected,
			LLMRequests,
			QueueDepth,
		)
	})
	return promhttp.Handler()
}
