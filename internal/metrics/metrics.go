// Package metrics provides Prometheus collectors for the load, training and
// evaluation stages, plus a persistent history of evaluation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSessionsLoaded        = "clickrank_sessions_loaded_total"
	MetricSessionRejections     = "clickrank_session_rejections_total"
	MetricTrainingRuns          = "clickrank_training_runs_total"
	MetricTrainingDuration      = "clickrank_training_duration_seconds"
	MetricModelDocuments        = "clickrank_model_documents"
	MetricModelQueries          = "clickrank_model_queries"
	MetricCacheHits             = "clickrank_cache_hits_total"
	MetricCacheMisses           = "clickrank_cache_misses_total"
	MetricCacheSize             = "clickrank_cache_size"
	MetricEvaluatedSessions     = "clickrank_evaluated_sessions_total"
	MetricUnevaluatedSessions   = "clickrank_unevaluated_sessions_total"
	MetricSavedClicks           = "clickrank_saved_clicks"
	MetricChangeInRank          = "clickrank_change_in_rank"
	MetricObservationsRead      = "clickrank_observations_read_total"
	MetricObservationsMalformed = "clickrank_observations_malformed_total"
)

// Status constants for training runs.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains the Prometheus collectors for a clickrank process.
// All operations are thread-safe.
type Metrics struct {
	sessionsLoaded        prometheus.Counter
	sessionRejections     *prometheus.CounterVec
	trainingRuns          *prometheus.CounterVec
	trainingDuration      prometheus.Histogram
	modelDocuments        prometheus.Gauge
	modelQueries          prometheus.Gauge
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
	cacheSize             *prometheus.GaugeVec
	evaluatedSessions     prometheus.Counter
	unevaluatedSessions   prometheus.Counter
	savedClicks           prometheus.Histogram
	changeInRank          prometheus.Histogram
	observationsRead      *prometheus.CounterVec
	observationsMalformed *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sessionsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsLoaded,
			Help: "Total number of session summaries stored",
		}),
		sessionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSessionRejections,
				Help: "Total number of discarded sessions by reason",
			},
			[]string{"reason"},
		),
		trainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTrainingRuns,
				Help: "Total number of training runs by status",
			},
			[]string{"status"},
		),
		trainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTrainingDuration,
			Help:    "Histogram of training duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		modelDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricModelDocuments,
			Help: "Number of (query, document) rows in the current model",
		}),
		modelQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricModelQueries,
			Help: "Number of distinct queries in the current model",
		}),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheHits,
				Help: "Total number of cache hits by cache",
			},
			[]string{"cache"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheMisses,
				Help: "Total number of cache misses by cache",
			},
			[]string{"cache"},
		),
		cacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCacheSize,
				Help: "Number of entries held by cache",
			},
			[]string{"cache"},
		),
		evaluatedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEvaluatedSessions,
			Help: "Total number of held-out sessions whose final click the model ranked",
		}),
		unevaluatedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnevaluatedSessions,
			Help: "Total number of held-out sessions whose final click the model did not know",
		}),
		savedClicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSavedClicks,
			Help:    "Distribution of saved clicks per held-out session",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		}),
		changeInRank: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricChangeInRank,
			Help:    "Distribution of final click rank improvement per held-out session",
			Buckets: []float64{-10, -5, -2, -1, 0, 1, 2, 5, 10},
		}),
		observationsRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricObservationsRead,
				Help: "Total number of observations read by source",
			},
			[]string{"source"},
		),
		observationsMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricObservationsMalformed,
				Help: "Total number of observations skipped as malformed by source",
			},
			[]string{"source"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsLoaded,
		m.sessionRejections,
		m.trainingRuns,
		m.trainingDuration,
		m.modelDocuments,
		m.modelQueries,
		m.cacheHits,
		m.cacheMisses,
		m.cacheSize,
		m.evaluatedSessions,
		m.unevaluatedSessions,
		m.savedClicks,
		m.changeInRank,
		m.observationsRead,
		m.observationsMalformed,
	}
}

// IncSessionsLoaded counts stored session summaries.
func (m *Metrics) IncSessionsLoaded(n int) {
	m.sessionsLoaded.Add(float64(n))
}

// RecordRejection counts one discarded session.
func (m *Metrics) RecordRejection(reason string) {
	m.sessionRejections.WithLabelValues(reason).Inc()
}

// ObserveTraining records a finished training run.
func (m *Metrics) ObserveTraining(d time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.trainingRuns.WithLabelValues(status).Inc()
	m.trainingDuration.Observe(d.Seconds())
}

// SetModelSize records the size of the current model.
func (m *Metrics) SetModelSize(queries, documents int) {
	m.modelQueries.Set(float64(queries))
	m.modelDocuments.Set(float64(documents))
}

// RecordCacheHit counts a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.cacheMisses.WithLabelValues(cacheType).Inc()
}

// UpdateCacheSize records the number of cached entries.
func (m *Metrics) UpdateCacheSize(cacheType string, size int) {
	m.cacheSize.WithLabelValues(cacheType).Set(float64(size))
}

// ObserveEvaluation records the metrics of one held-out session.
func (m *Metrics) ObserveEvaluation(evaluated bool, savedClicks, changeInRank int) {
	if !evaluated {
		m.unevaluatedSessions.Inc()
		return
	}
	m.evaluatedSessions.Inc()
	m.savedClicks.Observe(float64(savedClicks))
	m.changeInRank.Observe(float64(changeInRank))
}

// ObserveRead counts observations read from a source.
func (m *Metrics) ObserveRead(source string, read, malformed int) {
	m.observationsRead.WithLabelValues(source).Add(float64(read))
	m.observationsMalformed.WithLabelValues(source).Add(float64(malformed))
}
