package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"route"},
	)
	pipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_pipeline_outcomes_total",
			Help: "Terminal outcomes of query attempts by type, status and failure category.",
		},
		[]string{"query_type", "status", "category"},
	)
	modelCallDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_model_call_duration_ms",
			Help:    "Model backend call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"op", "outcome"},
	)
	executionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_execution_errors_total",
			Help: "Database execution failures by kind (syntax, runtime).",
		},
		[]string{"kind"},
	)
	streamTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_stream_chunks_total",
			Help: "Explanation chunks forwarded to clients.",
		},
	)
	streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_streams_total",
			Help: "Explanation streams by outcome (completed, failed, interrupted, cancelled).",
		},
		[]string{"outcome"},
	)
	historyFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_history_record_failures_total",
			Help: "History records that could not be persisted.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationMs,
		pipelineOutcomesTotal,
		modelCallDurationMs,
		executionErrorsTotal,
		streamTokensTotal,
		streamsTotal,
		historyFailuresTotal,
	)
}

func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDurationMs.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

func ObservePipelineOutcome(queryType, status, category string) {
	pipelineOutcomesTotal.WithLabelValues(queryType, status, category).Inc()
}

func ObserveModelCall(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	modelCallDurationMs.WithLabelValues(op, outcome).Observe(float64(elapsed.Milliseconds()))
}

func IncrementExecutionError(kind string) {
	executionErrorsTotal.WithLabelValues(kind).Inc()
}

func AddStreamChunks(n int) {
	if n > 0 {
		streamTokensTotal.Add(float64(n))
	}
}

func ObserveStream(outcome string) {
	streamsTotal.WithLabelValues(outcome).Inc()
}

func IncrementHistoryFailure() {
	historyFailuresTotal.Inc()
}
