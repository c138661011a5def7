package store

import (
	"context"
	"slices"
	"sync"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/session"
)

// MemoryStore keeps everything in memory (for tests and one-shot runs).
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]int64
	nextID   int64
	sessions map[int64][]session.Summary
	keys     map[int64]map[session.Key]bool
	content  map[string]ContentItem
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[string]int64),
		sessions: make(map[int64][]session.Summary),
		keys:     make(map[int64]map[session.Key]bool),
		content:  make(map[string]ContentItem),
	}
}

func (m *MemoryStore) RecordDataset(_ context.Context, name string) (int64, error) {
	if err := ValidateDatasetName(name); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.datasets[name]; exists {
		return 0, errors.AlreadyExistsError("dataset " + name)
	}
	m.nextID++
	m.datasets[name] = m.nextID
	m.keys[m.nextID] = make(map[session.Key]bool)
	return m.nextID, nil
}

func (m *MemoryStore) DatasetID(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.datasets[name]
	if !exists {
		return 0, errors.NotFoundError("dataset " + name)
	}
	return id, nil
}

func (m *MemoryStore) InsertSession(_ context.Context, datasetID int64, s session.Summary) error {
	if err := s.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys, exists := m.keys[datasetID]
	if !exists {
		return errors.NotFoundError("dataset")
	}
	k := session.Key{SessionID: s.SessionID, SearchTerm: s.SearchTerm}
	if keys[k] {
		return errors.AlreadyExistsError("session " + s.SessionID)
	}
	keys[k] = true

	// Copy to avoid mutations
	m.sessions[datasetID] = append(m.sessions[datasetID], copySummary(s))
	return nil
}

func (m *MemoryStore) GetSessions(_ context.Context, datasetID int64) ([]session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.sessions[datasetID]
	out := make([]session.Summary, len(stored))
	for i, s := range stored {
		out[i] = copySummary(s)
	}
	return out, nil
}

func (m *MemoryStore) GetClicked(ctx context.Context, datasetID int64) ([]session.Occurrence, error) {
	sessions, err := m.GetSessions(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	clicked, _ := session.Explode(sessions)
	return clicked, nil
}

func (m *MemoryStore) GetSkipped(ctx context.Context, datasetID int64) ([]session.Occurrence, error) {
	sessions, err := m.GetSessions(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	_, skipped := session.Explode(sessions)
	return skipped, nil
}

func (m *MemoryStore) SaveContentItems(_ context.Context, items []ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range items {
		if it.ContentID == "" {
			return errors.ValidationError("content item has no content id")
		}
		m.content[it.ContentID] = it
	}
	return nil
}

func (m *MemoryStore) GetContentMetadata(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]ContentItem, 0, len(m.content))
	for _, it := range m.content {
		items = append(items, it)
	}
	return contentMetadata(items), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copySummary(s session.Summary) session.Summary {
	s.ClickedDocuments = slices.Clone(s.ClickedDocuments)
	s.SkippedDocuments = slices.Clone(s.SkippedDocuments)
	return s
}
