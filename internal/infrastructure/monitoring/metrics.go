package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type LedgerMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ConflictRetries   *prometheus.CounterVec
}

type BusinessMetrics struct {
	OnboardingDecisions *prometheus.CounterVec
	OnboardingFallbacks prometheus.Counter
	InterestResults     *prometheus.CounterVec
	RateLookups         *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec
}

var (
	HTTP = HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_http_requests_total",
				Help: "Total number of HTTP requests received.",
			},
			[]string{"method", "path", "code"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_engine_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"},
		),
	}

	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Ledger = LedgerMetrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_operations_total",
				Help: "Ledger operations by kind, strategy and outcome.",
			},
			[]string{"operation", "strategy", "outcome"},
		),
		OperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_engine_operation_duration_seconds",
				Help:    "Ledger operation latency including conflict retries.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "strategy"},
		),
		ConflictRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_conflict_retries_total",
				Help: "Optimistic version conflicts that triggered a retry.",
			},
			[]string{"operation"},
		),
	}

	Business = BusinessMetrics{
		OnboardingDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_onboarding_decisions_total",
				Help: "Onboarding outcomes by final state.",
			},
			[]string{"state"},
		),
		OnboardingFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_engine_onboarding_fallbacks_total",
				Help: "Premium requests that fell back to a savings account.",
			},
		),
		InterestResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_interest_accounts_total",
				Help: "Accounts processed by interest batches, by result.",
			},
			[]string{"result"},
		),
		RateLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_rate_lookups_total",
				Help: "Exchange-rate lookups by serving source.",
			},
			[]string{"source"},
		),
		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_events_dropped_total",
				Help: "Notifications dropped because the delivery queue was full or closed.",
			},
			[]string{"type"},
		),
	}
)

func RecordHTTPRequest(method, path, code string, duration time.Duration) {
	HTTP.RequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTP.RequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordLedgerOperation(operation, strategy, outcome string, duration time.Duration) {
	Ledger.OperationsTotal.WithLabelValues(operation, strategy, outcome).Inc()
	Ledger.OperationDuration.WithLabelValues(operation, strategy).Observe(duration.Seconds())
}

func RecordConflictRetry(operation string) {
	Ledger.ConflictRetries.WithLabelValues(operation).Inc()
}

func RecordOnboardingDecision(state string) {
	Business.OnboardingDecisions.WithLabelValues(state).Inc()
}

func RecordOnboardingFallback() {
	Business.OnboardingFallbacks.Inc()
}

func RecordInterestResult(result string, n int) {
	if n > 0 {
		Business.InterestResults.WithLabelValues(result).Add(float64(n))
	}
}

func RecordRateLookup(source string) {
	Business.RateLookups.WithLabelValues(source).Inc()
}

func RecordEventDropped(eventType string) {
	Business.EventsDropped.WithLabelValues(eventType).Inc()
}
