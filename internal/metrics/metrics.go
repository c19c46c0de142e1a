package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pipelineRequests 按结果统计流水线请求
	pipelineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_pipeline_requests_total",
		Help: "Total pipeline requests by outcome",
	}, []string{"outcome"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coach_pipeline_duration_seconds",
		Help:    "End-to-end pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	relayChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_relay_chunks_total",
		Help: "Chunks written to clients by phase",
	}, []string{"phase"})

	criticOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_critic_total",
		Help: "Critic phase outcomes",
	}, []string{"outcome"})

	persistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_persist_errors_total",
		Help: "Conversation store failures by operation",
	}, []string{"operation"})

	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_search_requests_total",
		Help: "Web search lookups by result",
	}, []string{"result"})
)

const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeClientGone  = "client_gone"
	OutcomePartial     = "partial"
)

func ObservePipeline(outcome string, elapsed time.Duration) {
	pipelineRequests.WithLabelValues(outcome).Inc()
	pipelineDuration.Observe(elapsed.Seconds())
}

func AddRelayChunks(primary, critic int) {
	relayChunks.WithLabelValues("primary").Add(float64(primary))
	relayChunks.WithLabelValues("critic").Add(float64(critic))
}

// ObserveCritic outcome 取 ok / skipped / failed
func ObserveCritic(outcome string) {
	criticOutcomes.WithLabelValues(outcome).Inc()
}

func PersistError(operation string) {
	persistErrors.WithLabelValues(operation).Inc()
}

func ObserveSearch(result string) {
	searchRequests.WithLabelValues(result).Inc()
}
