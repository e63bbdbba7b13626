package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	anamnesisValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "psi",
			Subsystem: "anamnesis",
			Name:      "validations_total",
			Help:      "Anamnesis link validations by outcome.",
		},
		[]string{"outcome"},
	)

	creditMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "psi",
			Subsystem: "credits",
			Name:      "mutations_total",
			Help:      "Credit ledger mutations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "psi",
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Document generations by template and result.",
		},
		[]string{"template", "result"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "psi",
			Subsystem: "llm",
			Name:      "generation_duration_seconds",
			Help:      "Duration of model invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		},
		[]string{"template"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "psi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the dev server.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		anamnesisValidations,
		creditMutations,
		generations,
		generationDuration,
		httpRequests,
	)
}

func RecordAnamnesisValidation(outcome string) {
	anamnesisValidations.WithLabelValues(outcome).Inc()
}

func RecordCreditMutation(kind string, err error) {
	creditMutations.WithLabelValues(kind, result(err)).Inc()
}

func RecordGeneration(template string, started time.Time, err error) {
	generations.WithLabelValues(template, result(err)).Inc()
	generationDuration.WithLabelValues(template).Observe(time.Since(started).Seconds())
}

func RecordHTTPRequest(method, route string, status int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
