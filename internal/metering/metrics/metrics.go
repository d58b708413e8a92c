package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsRecorded     prometheus.Counter
	CounterStoreFailures prometheus.Counter
	BreakerOpens         prometheus.Counter
	SyncPasses           prometheus.Counter
	SyncRecordsSaved     prometheus.Counter
	SyncErrors           prometheus.Counter
	QuotaChecks          *prometheus.CounterVec
	AbuseRejections      *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		RequestsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_requests_recorded_total",
			Help: "Total number of request increments written to the counter store",
		}),
		CounterStoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_counter_store_failures_total",
			Help: "Total number of counter store transport failures",
		}),
		BreakerOpens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_breaker_opens_total",
			Help: "Total number of times the counter store circuit breaker opened",
		}),
		SyncPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_sync_passes_total",
			Help: "Total number of completed usage sync passes",
		}),
		SyncRecordsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_sync_records_saved_total",
			Help: "Total number of usage records upserted by the sync job",
		}),
		SyncErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formgate_metering_sync_errors_total",
			Help: "Total number of per-cell errors during usage sync passes",
		}),
		QuotaChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_quota_checks_total",
			Help: "Total number of quota checks by kind and outcome",
		}, []string{"kind", "outcome"}),
		AbuseRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formgate_abuse_rejections_total",
			Help: "Total number of submission rejections by gate",
		}, []string{"gate"}),
	}
}
