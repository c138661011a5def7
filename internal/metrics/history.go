package metrics

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DataPoint is one recorded value of an evaluation metric.
type DataPoint struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// History keeps the aggregate results of past evaluation runs so model
// changes can be compared over time.
type History interface {
	// Record stores one value per metric for a run.
	Record(ctx context.Context, runID string, at time.Time, values map[string]float64) error

	// Load returns the points of a metric recorded since the given time,
	// oldest first.
	Load(ctx context.Context, metric string, since time.Time) ([]DataPoint, error)

	// Close releases resources.
	Close() error
}

// MemoryHistory keeps history for the lifetime of the process.
type MemoryHistory struct {
	mu     sync.RWMutex
	points map[string][]DataPoint
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{points: make(map[string][]DataPoint)}
}

func (h *MemoryHistory) Record(_ context.Context, runID string, at time.Time, values map[string]float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for metric, v := range values {
		h.points[metric] = append(h.points[metric], DataPoint{RunID: runID, Timestamp: at, Value: v})
	}
	return nil
}

func (h *MemoryHistory) Load(_ context.Context, metric string, since time.Time) ([]DataPoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []DataPoint
	for _, dp := range h.points[metric] {
		if !dp.Timestamp.Before(since) {
			out = append(out, dp)
		}
	}
	slices.SortStableFunc(out, func(a, b DataPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

func (h *MemoryHistory) Close() error {
	return nil
}
