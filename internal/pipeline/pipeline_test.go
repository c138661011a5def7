package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ricesearch/clickrank/internal/metrics"
	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
	"github.com/ricesearch/clickrank/internal/store"
)

func imp(id, term, doc string, rank int) session.Observation {
	return session.Observation{SessionID: id, SearchTerm: term, DocumentID: doc, Rank: rank, Type: session.Impression}
}

func click(id, term, doc string, rank int) session.Observation {
	return session.Observation{SessionID: id, SearchTerm: term, DocumentID: doc, Rank: rank, Type: session.Click}
}

// page shows a, b and c for term in session id.
func page(id, term string) []session.Observation {
	return []session.Observation{
		imp(id, term, "a", 1),
		imp(id, term, "b", 2),
		imp(id, term, "c", 3),
	}
}

// fooObservations yields five usable sessions for "foo" plus one session
// without clicks and one with a gap in its impressions.
func fooObservations() []session.Observation {
	var obs []session.Observation
	add := func(id string, clicks ...session.Observation) {
		obs = append(obs, page(id, "foo")...)
		obs = append(obs, clicks...)
	}
	add("s1", click("s1", "foo", "a", 1))
	add("s2", click("s2", "foo", "c", 3))
	add("s3", click("s3", "foo", "a", 1))
	add("s4", click("s4", "foo", "a", 1), click("s4", "foo", "b", 2))
	add("s5", click("s5", "foo", "b", 2), click("s5", "foo", "c", 3))
	add("s6")
	obs = append(obs, imp("s7", "foo", "a", 1), click("s7", "foo", "c", 3))
	return obs
}

func newTestPipeline(st store.Store, settings Settings, opts ...Option) *Pipeline {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(st, settings, opts...)
}

// failingStore refuses to store the listed sessions.
type failingStore struct {
	*store.MemoryStore
	fail map[string]bool
}

func (f *failingStore) InsertSession(ctx context.Context, datasetID int64, s session.Summary) error {
	if f.fail[s.SessionID] {
		return stderrors.New("connection reset")
	}
	return f.MemoryStore.InsertSession(ctx, datasetID, s)
}

func TestLoadSessions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := newTestPipeline(st, DefaultSettings())

	res, err := p.LoadSessions(ctx, "week1", fooObservations())
	if err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}

	if res.Sessions != 5 {
		t.Errorf("Sessions = %d, want 5", res.Sessions)
	}
	if res.Rejections[session.ReasonNoClicks] != 1 {
		t.Errorf("no_clicks = %d, want 1", res.Rejections[session.ReasonNoClicks])
	}
	if res.Rejections[session.ReasonMissingImpressions] != 1 {
		t.Errorf("missing_impressions = %d, want 1", res.Rejections[session.ReasonMissingImpressions])
	}

	stored, err := st.GetSessions(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(stored) != 5 {
		t.Errorf("stored %d sessions, want 5", len(stored))
	}
}

func TestLoadSessions_DuplicateDataset(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(store.NewMemoryStore(), DefaultSettings())

	if _, err := p.LoadSessions(ctx, "week1", fooObservations()); err != nil {
		t.Fatalf("first load error = %v", err)
	}
	_, err := p.LoadSessions(ctx, "week1", fooObservations())
	if !errors.IsAlreadyExists(err) {
		t.Errorf("second load error = %v, want already exists", err)
	}
}

func TestLoadSessions_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), fail: map[string]bool{"s2": true, "s4": true}}

	reg, err := metrics.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	p := newTestPipeline(st, DefaultSettings(), WithMetrics(reg.Metrics))

	res, err := p.LoadSessions(ctx, "week1", fooObservations())
	if err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}

	if res.Sessions != 3 {
		t.Errorf("Sessions = %d, want 3", res.Sessions)
	}
	if res.Rejections[session.ReasonDatabaseErrors] != 2 {
		t.Errorf("database_errors = %d, want 2", res.Rejections[session.ReasonDatabaseErrors])
	}

	n, err := testutil.GatherAndCount(reg.Gatherer(), metrics.MetricSessionRejections)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("rejection series = %d, want 3", n)
	}
}

func TestLoadSessions_NormaliseAndFilter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	settings := DefaultSettings()
	settings.Normalise = true
	settings.MinSessionsPerQuery = 2
	p := newTestPipeline(st, settings)

	var obs []session.Observation
	obs = append(obs, imp("s1", "Tax Credits", "a", 1), click("s1", "Tax Credits", "a", 1))
	obs = append(obs, imp("s2", "tax credit", "b", 1), click("s2", "tax credit", "b", 1))
	obs = append(obs, imp("s3", "rare", "c", 1), click("s3", "rare", "c", 1))

	res, err := p.LoadSessions(ctx, "week1", obs)
	if err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}
	if res.RemovedQueries != 1 {
		t.Errorf("RemovedQueries = %d, want 1", res.RemovedQueries)
	}
	if res.Sessions != 2 {
		t.Fatalf("Sessions = %d, want 2", res.Sessions)
	}

	stored, err := st.GetSessions(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	for _, s := range stored {
		if s.SearchTerm != "tax credit" {
			t.Errorf("SearchTerm = %q, want %q", s.SearchTerm, "tax credit")
		}
	}
}

func TestLoadSessions_RateLimitedCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	settings := DefaultSettings()
	settings.InsertRate = 1
	p := newTestPipeline(store.NewMemoryStore(), settings)

	if _, err := p.LoadSessions(ctx, "week1", fooObservations()); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(store.NewMemoryStore(), DefaultSettings())

	if _, err := p.LoadSessions(ctx, "week1", fooObservations()); err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}

	prep, err := p.Prepare(ctx, "week1")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	// ceil(0.25 * 5) = 2 held out.
	if len(prep.Training) != 3 || len(prep.Test) != 2 {
		t.Errorf("split = %d/%d, want 3/2", len(prep.Training), len(prep.Test))
	}
	// s1..s5 click 7 documents in total and skip 3.
	if len(prep.Clicked) != 7 {
		t.Errorf("clicked occurrences = %d, want 7", len(prep.Clicked))
	}
	if len(prep.Skipped) != 3 {
		t.Errorf("skipped occurrences = %d, want 3", len(prep.Skipped))
	}
}

func TestPrepare_UnknownDataset(t *testing.T) {
	p := newTestPipeline(store.NewMemoryStore(), DefaultSettings())

	_, err := p.Prepare(context.Background(), "missing")
	if !errors.IsNotFound(err) {
		t.Errorf("Prepare() error = %v, want not found", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	reg, err := metrics.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	history := metrics.NewMemoryHistory()

	p := newTestPipeline(store.NewMemoryStore(), DefaultSettings(),
		WithMetrics(reg.Metrics),
		WithHistory(history),
	)

	res, err := p.Run(ctx, "week1", fooObservations())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Model.Len() == 0 {
		t.Error("trained model has no rows")
	}
	if len(res.Evaluation.Results) != len(res.Prepared.Test) {
		t.Errorf("results = %d, want one per test session (%d)",
			len(res.Evaluation.Results), len(res.Prepared.Test))
	}
	if res.Evaluation.RunID == "" {
		t.Error("RunID is empty")
	}

	points, err := history.Load(ctx, HistoryNewMRR, time.Time{})
	if err != nil {
		t.Fatalf("history Load() error = %v", err)
	}
	if len(points) != 1 || points[0].RunID != res.Evaluation.RunID {
		t.Errorf("history = %+v, want one point for run %s", points, res.Evaluation.RunID)
	}

	n, err := testutil.GatherAndCount(reg.Gatherer(), metrics.MetricTrainingRuns)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("training run series = %d, want 1", n)
	}
}

func TestEvaluate_RankerSeesWholeModel(t *testing.T) {
	ctx := context.Background()
	settings := DefaultSettings()
	settings.TestFraction = 0
	p := newTestPipeline(store.NewMemoryStore(), settings)

	if _, err := p.LoadSessions(ctx, "week1", fooObservations()); err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}
	prep, err := p.Prepare(ctx, "week1")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(prep.Test) != 0 {
		t.Fatalf("test sessions = %d, want 0", len(prep.Test))
	}

	model, err := p.Train(prep)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	// Replaying the training sessions: every final click is known.
	run, err := p.Evaluate(ctx, model, prep.Training)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if run.Summary.Evaluated != 5 {
		t.Errorf("Evaluated = %d, want 5", run.Summary.Evaluated)
	}
}
