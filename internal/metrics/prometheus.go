package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrirag_runs_total",
			Help: "Total comparison runs by terminal status",
		},
		[]string{"status"},
	)

	ExamplesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrirag_examples_processed_total",
			Help: "Total QA examples processed",
		},
		[]string{"variant", "status"},
	)

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrirag_model_latency_seconds",
			Help:    "Successful model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"variant"},
	)

	DegradedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrirag_degraded_events_total",
			Help: "Degraded retrieval or generation events",
		},
		[]string{"kind"},
	)

	ContextFacts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrirag_context_facts_count",
			Help:    "Number of facts packed into each context",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	ContextTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agrirag_context_truncated_total",
			Help: "Total contexts truncated by the token budget",
		},
	)

	KGEntitiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agrirag_kg_entities_total",
			Help: "Total entities in the knowledge graph",
		},
	)

	KGRelationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agrirag_kg_relations_total",
			Help: "Total relations in the knowledge graph",
		},
	)
)

func Init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(ExamplesProcessed)
	prometheus.MustRegister(ModelLatency)
	prometheus.MustRegister(DegradedEvents)
	prometheus.MustRegister(ContextFacts)
	prometheus.MustRegister(ContextTruncated)
	prometheus.MustRegister(KGEntitiesTotal)
	prometheus.MustRegister(KGRelationsTotal)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
