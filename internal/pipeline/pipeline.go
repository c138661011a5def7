// Package pipeline wires the stages together: load sessions into a store,
// split them, train a relevance model and evaluate it on held-out sessions.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ricesearch/clickrank/internal/evaluation"
	"github.com/ricesearch/clickrank/internal/metrics"
	"github.com/ricesearch/clickrank/internal/normalize"
	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/ranking"
	"github.com/ricesearch/clickrank/internal/sdbn"
	"github.com/ricesearch/clickrank/internal/session"
	"github.com/ricesearch/clickrank/internal/split"
	"github.com/ricesearch/clickrank/internal/store"
)

// Settings tune the stages.
type Settings struct {
	Normalise           bool
	MinSessionsPerQuery int
	InsertRate          float64 // inserts per second, 0 = unlimited
	TestFraction        float64
	Seed                uint64
	CacheSize           int // 0 = unbounded
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		TestFraction: split.DefaultTestFraction,
		Seed:         1,
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithMetrics records stage metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithHistory appends each evaluation summary to h.
func WithHistory(h metrics.History) Option {
	return func(p *Pipeline) {
		p.history = h
	}
}

// Pipeline runs the stages against one store.
type Pipeline struct {
	store    store.Store
	settings Settings
	log      *logger.Logger
	metrics  *metrics.Metrics
	history  metrics.History
}

// New creates a pipeline.
func New(st store.Store, settings Settings, opts ...Option) *Pipeline {
	p := &Pipeline{store: st, settings: settings}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrDefault(p.log)
	return p
}

// LoadResult describes one load.
type LoadResult struct {
	DatasetID      int64          `json:"dataset_id"`
	Observations   int            `json:"observations"`
	RemovedQueries int            `json:"removed_queries"`
	Sessions       int            `json:"sessions"`
	Rejections     map[string]int `json:"rejections"`
}

// LoadSessions segments observations into session summaries and stores them
// under a new dataset. Sessions the store refuses are counted as
// database_errors and do not abort the load.
func (p *Pipeline) LoadSessions(ctx context.Context, datasetName string, observations []session.Observation) (*LoadResult, error) {
	log := p.log.WithDataset(datasetName)

	if p.settings.Normalise {
		observations = normalizeTerms(observations)
	}

	observations, removed := session.FilterSparseQueries(observations, p.settings.MinSessionsPerQuery)
	if removed > 0 {
		log.Info("Removed sparse queries",
			"queries", removed,
			"min_sessions", p.settings.MinSessionsPerQuery,
		)
	}

	datasetID, err := p.store.RecordDataset(ctx, datasetName)
	if err != nil {
		return nil, err
	}

	var rejections *session.RejectionCounter
	if p.metrics != nil {
		rejections = session.NewRejectionCounter(p.metrics)
	} else {
		rejections = session.NewRejectionCounter(nil)
	}
	summaries := session.NewSegmenter(rejections, log).Segment(observations)

	limiter := p.insertLimiter()
	stored := 0
	for _, s := range summaries {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := p.store.InsertSession(ctx, datasetID, s); err != nil {
			log.Warn("Failed to store session",
				"session_id", s.SessionID,
				"search_term", s.SearchTerm,
				"error", err,
			)
			rejections.Inc(session.ReasonDatabaseErrors)
			continue
		}
		stored++
	}

	if p.metrics != nil {
		p.metrics.IncSessionsLoaded(stored)
	}

	log.Info("Loaded sessions",
		"observations", len(observations),
		"sessions", stored,
		"rejected", rejections.String(),
	)

	return &LoadResult{
		DatasetID:      datasetID,
		Observations:   len(observations),
		RemovedQueries: removed,
		Sessions:       stored,
		Rejections:     rejections.Counts(),
	}, nil
}

func (p *Pipeline) insertLimiter() *rate.Limiter {
	r := p.settings.InsertRate
	if r <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(r), int(math.Max(1, math.Ceil(r))))
}

func normalizeTerms(observations []session.Observation) []session.Observation {
	out := make([]session.Observation, len(observations))
	terms := make(map[string]string)
	for i, o := range observations {
		n, ok := terms[o.SearchTerm]
		if !ok {
			n = normalize.SearchTerm(o.SearchTerm)
			terms[o.SearchTerm] = n
		}
		o.SearchTerm = n
		out[i] = o
	}
	return out
}

// Prepared is a dataset split into training and test sessions, with the
// clicked and skipped occurrences of the whole dataset.
type Prepared struct {
	DatasetID int64
	Training  []session.Summary
	Test      []session.Summary
	Clicked   []session.Occurrence
	Skipped   []session.Occurrence
}

// Prepare reads a dataset and splits it per query.
func (p *Pipeline) Prepare(ctx context.Context, datasetName string) (*Prepared, error) {
	datasetID, err := p.store.DatasetID(ctx, datasetName)
	if err != nil {
		return nil, err
	}

	var (
		sessions         []session.Summary
		clicked, skipped []session.Occurrence
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = p.store.GetSessions(gctx, datasetID)
		return err
	})
	g.Go(func() error {
		var err error
		clicked, err = p.store.GetClicked(gctx, datasetID)
		return err
	})
	g.Go(func() error {
		var err error
		skipped, err = p.store.GetSkipped(gctx, datasetID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(sessions) == 0 {
		return nil, errors.ValidationError("dataset " + datasetName + " has no sessions")
	}

	training, test, err := split.ByQuery(sessions, p.settings.TestFraction, p.settings.Seed)
	if err != nil {
		return nil, err
	}

	p.log.WithDataset(datasetName).Info("Prepared dataset",
		"sessions", len(sessions),
		"training", len(training),
		"test", len(test),
	)

	return &Prepared{
		DatasetID: datasetID,
		Training:  training,
		Test:      test,
		Clicked:   clicked,
		Skipped:   skipped,
	}, nil
}

// Train fits the relevance model on the training sessions.
func (p *Pipeline) Train(prep *Prepared) (*sdbn.Model, error) {
	start := time.Now()
	model, err := sdbn.Train(prep.Training, prep.Clicked, prep.Skipped, sdbn.WithLogger(p.log))

	if p.metrics != nil {
		p.metrics.ObserveTraining(time.Since(start), err)
		if err == nil {
			p.metrics.SetModelSize(len(model.Queries()), model.Len())
		}
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// EvaluationRun is the outcome of evaluating a model.
type EvaluationRun struct {
	RunID   string
	Results []evaluation.Result
	Summary *evaluation.Summary
}

// Ranker builds a ranker over model using the configured cache settings.
func (p *Pipeline) Ranker(model ranking.RelevanceModel) *ranking.Ranker {
	opts := []ranking.Option{ranking.WithMaxQueries(p.settings.CacheSize)}
	if p.metrics != nil {
		opts = append(opts, ranking.WithCacheMetrics(p.metrics))
	}
	return ranking.NewRanker(model, opts...)
}

// Evaluate replays the test sessions against model.
func (p *Pipeline) Evaluate(ctx context.Context, model ranking.RelevanceModel, test []session.Summary) (*EvaluationRun, error) {
	runID := uuid.NewString()
	log := p.log.WithRun(runID)

	results := evaluation.NewEvaluator(p.Ranker(model), log).Evaluate(test)
	if p.metrics != nil {
		for _, r := range results {
			p.metrics.ObserveEvaluation(r.Evaluated(), r.SavedClicks, r.ChangeInRank)
		}
	}

	summary := evaluation.Summarize(results)
	log.Info("Evaluated model",
		"sessions", summary.Sessions,
		"evaluated", summary.Evaluated,
		"mean_saved_clicks", summary.MeanSavedClicks,
		"mean_change_in_rank", summary.MeanChangeInRank,
		"old_mrr", summary.OldMRR,
		"new_mrr", summary.NewMRR,
	)

	if p.history != nil {
		if err := p.history.Record(ctx, runID, time.Now(), historyValues(summary)); err != nil {
			return nil, errors.StorageError("record evaluation history", err)
		}
	}

	return &EvaluationRun{RunID: runID, Results: results, Summary: summary}, nil
}

// History metric names.
const (
	HistoryMeanSavedClicks          = "mean_saved_clicks"
	HistoryMeanChangeInRank         = "mean_change_in_rank"
	HistoryMeanWeightedChangeInRank = "mean_weighted_change_in_rank"
	HistoryOldMRR                   = "old_mrr"
	HistoryNewMRR                   = "new_mrr"
)

func historyValues(s *evaluation.Summary) map[string]float64 {
	return map[string]float64{
		HistoryMeanSavedClicks:          s.MeanSavedClicks,
		HistoryMeanChangeInRank:         s.MeanChangeInRank,
		HistoryMeanWeightedChangeInRank: s.MeanWeightedChangeInRank,
		HistoryOldMRR:                   s.OldMRR,
		HistoryNewMRR:                   s.NewMRR,
	}
}

// RunResult collects the outcome of every stage.
type RunResult struct {
	Load       *LoadResult
	Prepared   *Prepared
	Model      *sdbn.Model
	Evaluation *EvaluationRun
}

// Run loads, splits, trains and evaluates in one go.
func (p *Pipeline) Run(ctx context.Context, datasetName string, observations []session.Observation) (*RunResult, error) {
	load, err := p.LoadSessions(ctx, datasetName, observations)
	if err != nil {
		return nil, err
	}

	prep, err := p.Prepare(ctx, datasetName)
	if err != nil {
		return nil, err
	}

	model, err := p.Train(prep)
	if err != nil {
		return nil, err
	}

	eval, err := p.Evaluate(ctx, model, prep.Test)
	if err != nil {
		return nil, err
	}

	return &RunResult{Load: load, Prepared: prep, Model: model, Evaluation: eval}, nil
}
