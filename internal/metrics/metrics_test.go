package metrics

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering twice must fail.
	if err := m.Register(reg); err == nil {
		t.Error("expected error registering the same collectors twice")
	}
}

func TestMetrics_RecordRejection(t *testing.T) {
	m := NewMetrics()

	m.RecordRejection("no_clicks")
	m.RecordRejection("no_clicks")
	m.RecordRejection("missing_impressions")

	if got := testutil.ToFloat64(m.sessionRejections.WithLabelValues("no_clicks")); got != 2 {
		t.Errorf("no_clicks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sessionRejections.WithLabelValues("missing_impressions")); got != 1 {
		t.Errorf("missing_impressions = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.sessionRejections); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
}

func TestMetrics_ObserveTraining(t *testing.T) {
	m := NewMetrics()

	m.ObserveTraining(200*time.Millisecond, nil)
	m.ObserveTraining(time.Second, stderrors.New("boom"))

	if got := testutil.ToFloat64(m.trainingRuns.WithLabelValues(StatusSuccess)); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.trainingRuns.WithLabelValues(StatusFailure)); got != 1 {
		t.Errorf("failure runs = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.trainingDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestMetrics_Cache(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheHit("ranking")
	m.RecordCacheMiss("ranking")
	m.RecordCacheMiss("ranking")
	m.UpdateCacheSize("ranking", 7)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"hits", m.cacheHits.WithLabelValues("ranking"), 1},
		{"misses", m.cacheMisses.WithLabelValues("ranking"), 2},
		{"size", m.cacheSize.WithLabelValues("ranking"), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_ObserveEvaluation(t *testing.T) {
	m := NewMetrics()

	m.ObserveEvaluation(true, 2, 1)
	m.ObserveEvaluation(true, 0, -1)
	m.ObserveEvaluation(false, 0, 0)

	if got := testutil.ToFloat64(m.evaluatedSessions); got != 2 {
		t.Errorf("evaluated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.unevaluatedSessions); got != 1 {
		t.Errorf("unevaluated = %v, want 1", got)
	}
}

func TestMetrics_ModelSizeAndLoads(t *testing.T) {
	m := NewMetrics()

	m.SetModelSize(3, 10)
	m.IncSessionsLoaded(4)
	m.IncSessionsLoaded(1)
	m.ObserveRead("kafka", 6, 2)

	if got := testutil.ToFloat64(m.modelQueries); got != 3 {
		t.Errorf("queries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.modelDocuments); got != 10 {
		t.Errorf("documents = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.sessionsLoaded); got != 5 {
		t.Errorf("sessions loaded = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.observationsMalformed.WithLabelValues("kafka")); got != 2 {
		t.Errorf("malformed = %v, want 2", got)
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	r.RecordRejection("no_clicks")

	path := filepath.Join(t.TempDir(), "clickrank.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	want := MetricSessionRejections + `{reason="no_clicks"} 1`
	if !strings.Contains(string(data), want) {
		t.Errorf("textfile missing %q:\n%s", want, data)
	}
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()
	now := time.Now()

	if err := h.Record(ctx, "run-2", now, map[string]float64{"new_mrr": 0.6}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := h.Record(ctx, "run-1", now.Add(-time.Hour), map[string]float64{"new_mrr": 0.5, "old_mrr": 0.4}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := h.Record(ctx, "run-0", now.Add(-48*time.Hour), map[string]float64{"new_mrr": 0.1}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	points, err := h.Load(ctx, "new_mrr", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].RunID != "run-1" || points[1].RunID != "run-2" {
		t.Errorf("points not oldest first: %+v", points)
	}

	missing, err := h.Load(ctx, "unknown", time.Time{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no points, got %d", len(missing))
	}
}

func TestMember_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		member string
		run    string
		value  float64
		ok     bool
	}{
		{"valid", encodeMember("abc", 0.25), "abc", 0.25, true},
		{"negative", encodeMember("r", -1.5), "r", -1.5, true},
		{"no separator", "0.25", "", 0, false},
		{"bad value", "abc|x", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, value, ok := decodeMember(tt.member)
			if ok != tt.ok || run != tt.run || value != tt.value {
				t.Errorf("decodeMember(%q) = %q, %v, %v", tt.member, run, value, ok)
			}
		})
	}
}

func TestNewRedisHistory_InvalidURL(t *testing.T) {
	if _, err := NewRedisHistory("invalid://url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRedisHistory_RecordAndLoad(t *testing.T) {
	h, err := NewRedisHistory("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer h.Close()

	ctx := context.Background()
	defer h.DeleteMetric(ctx, "test_mrr")

	now := time.Now()
	if err := h.Record(ctx, "run-a", now.Add(-time.Minute), map[string]float64{"test_mrr": 0.5}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := h.Record(ctx, "run-b", now, map[string]float64{"test_mrr": 0.5}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	points, err := h.Load(ctx, "test_mrr", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].RunID != "run-a" || points[1].RunID != "run-b" {
		t.Errorf("unexpected order: %+v", points)
	}
}
