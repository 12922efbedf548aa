package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics live on a private registry so tests and embedding programs stay isolated
// from the global default registry.
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmds",
		Name:      "op_total",
		Help:      "Operations per component and stage, by result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmds",
		Name:      "error_total",
		Help:      "Errors per component, by classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "llmds",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"comp", "stage"})

	invocationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmds",
		Name:      "invocations_total",
		Help:      "Generation invocations per dataset type, by result.",
	}, []string{"type", "result"})

	samplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmds",
		Name:      "samples_total",
		Help:      "Samples produced per dataset type.",
	}, []string{"type"})
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration, invocationTotal, samplesTotal)
}

// Registry exposes the metrics registry (for a /metrics handler or a textfile dump).
func Registry() *prometheus.Registry { return registry }

// WriteTextfile dumps all metrics in the node-exporter textfile format.
func WriteTextfile(path string) error { return prometheus.WriteToTextfile(path, registry) }

// IncOp counts one operation (result=success|error).
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError counts one classified error.
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration records a stage duration in milliseconds.
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// ObserveInvocation counts one settled generation invocation and its samples.
func ObserveInvocation(datasetType string, ok bool, samples int) {
	result := "success"
	if !ok {
		result = "error"
	}
	invocationTotal.WithLabelValues(datasetType, result).Inc()
	if samples > 0 {
		samplesTotal.WithLabelValues(datasetType).Add(float64(samples))
	}
}
