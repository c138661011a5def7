// Package store persists session summaries per dataset and the content
// metadata used to label reports.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
)

// Store types.
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// ContentItem describes one published document.
type ContentItem struct {
	ContentID string `json:"content_id"`
	BasePath  string `json:"base_path"`
	Title     string `json:"title"`
}

// Store is the relevance store.
type Store interface {
	// RecordDataset registers a new dataset and returns its ID. A name can
	// only be recorded once.
	RecordDataset(ctx context.Context, name string) (int64, error)

	// DatasetID looks up a recorded dataset.
	DatasetID(ctx context.Context, name string) (int64, error)

	// InsertSession stores one summary. A (session, search term) pair can
	// only be stored once per dataset.
	InsertSession(ctx context.Context, datasetID int64, s session.Summary) error

	// GetSessions returns every summary of a dataset in insertion order.
	GetSessions(ctx context.Context, datasetID int64) ([]session.Summary, error)

	// GetClicked returns one row per clicked document per session.
	GetClicked(ctx context.Context, datasetID int64) ([]session.Occurrence, error)

	// GetSkipped returns one row per skipped document per session.
	GetSkipped(ctx context.Context, datasetID int64) ([]session.Occurrence, error)

	// SaveContentItems inserts or replaces content metadata by content ID.
	SaveContentItems(ctx context.Context, items []ContentItem) error

	// GetContentMetadata maps both content IDs and base paths to titles.
	// It is only used for display.
	GetContentMetadata(ctx context.Context) (map[string]string, error)

	// Close releases resources.
	Close() error
}

// Open creates a store of the given type.
func Open(ctx context.Context, storeType, dsn string, log *logger.Logger) (Store, error) {
	switch storeType {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypePostgres:
		return NewPostgresStore(ctx, dsn, log)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown store type %q", storeType))
	}
}

// ValidateDatasetName checks a dataset name.
func ValidateDatasetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.ValidationError("dataset name cannot be empty")
	}
	if len(name) > 255 {
		return errors.ValidationError("dataset name too long (max 255 characters)")
	}
	return nil
}

func contentMetadata(items []ContentItem) map[string]string {
	titles := make(map[string]string, 2*len(items))
	for _, it := range items {
		if it.Title == "" {
			continue
		}
		titles[it.ContentID] = it.Title
		if it.BasePath != "" {
			titles[it.BasePath] = it.Title
		}
	}
	return titles
}
