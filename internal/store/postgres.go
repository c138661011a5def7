package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
)

// uniqueViolation is the Postgres error code for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore keeps datasets in Postgres. The schema is managed by Migrate.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, log *logger.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.ValidationError("database url is required for the postgres store")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.StorageError("open postgres", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to connect to postgres", err)
	}

	return NewPostgresStoreFromDB(db, log), nil
}

// NewPostgresStoreFromDB wraps an open database handle.
func NewPostgresStoreFromDB(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger.OrDefault(log)}
}

func (p *PostgresStore) RecordDataset(ctx context.Context, name string) (int64, error) {
	if err := ValidateDatasetName(name); err != nil {
		return 0, err
	}

	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO datasets (name) VALUES ($1) RETURNING dataset_id`, name,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, errors.AlreadyExistsError("dataset " + name)
	}
	if err != nil {
		return 0, errors.StorageError("record dataset", err)
	}
	return id, nil
}

func (p *PostgresStore) DatasetID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT dataset_id FROM datasets WHERE name = $1`, name,
	).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, errors.NotFoundError("dataset " + name)
	}
	if err != nil {
		return 0, errors.StorageError("look up dataset", err)
	}
	return id, nil
}

const insertSessionSQL = `
WITH q AS (
    INSERT INTO queries (search_term) VALUES ($2)
    ON CONFLICT (search_term) DO UPDATE SET search_term = EXCLUDED.search_term
    RETURNING query_id
)
INSERT INTO searches (
    dataset_id, query_id, session_id,
    clicked_documents, skipped_documents,
    final_click_document, final_click_rank
)
SELECT $1, q.query_id, $3, $4, $5, $6, $7 FROM q`

func (p *PostgresStore) InsertSession(ctx context.Context, datasetID int64, s session.Summary) error {
	if err := s.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}

	skipped := s.SkippedDocuments
	if skipped == nil {
		skipped = []string{}
	}

	_, err := p.db.ExecContext(ctx, insertSessionSQL,
		datasetID,
		s.SearchTerm,
		s.SessionID,
		pq.Array(s.ClickedDocuments),
		pq.Array(skipped),
		s.FinalClickDocument,
		s.FinalClickRank,
	)
	if isUniqueViolation(err) {
		return errors.AlreadyExistsError("session " + s.SessionID)
	}
	if err != nil {
		return errors.StorageError("insert session", err).WithDetail("session_id", s.SessionID)
	}
	return nil
}

func (p *PostgresStore) GetSessions(ctx context.Context, datasetID int64) ([]session.Summary, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT s.session_id, q.search_term, s.clicked_documents, s.skipped_documents,
       s.final_click_document, s.final_click_rank
FROM searches s
JOIN queries q ON q.query_id = s.query_id
WHERE s.dataset_id = $1
ORDER BY s.id`, datasetID)
	if err != nil {
		return nil, errors.StorageError("query sessions", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var s session.Summary
		var clicked, skipped []string
		if err := rows.Scan(
			&s.SessionID,
			&s.SearchTerm,
			pq.Array(&clicked),
			pq.Array(&skipped),
			&s.FinalClickDocument,
			&s.FinalClickRank,
		); err != nil {
			return nil, errors.StorageError("scan session", err)
		}
		s.ClickedDocuments = clicked
		if len(skipped) > 0 {
			s.SkippedDocuments = skipped
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("iterate sessions", err)
	}
	return out, nil
}

func (p *PostgresStore) GetClicked(ctx context.Context, datasetID int64) ([]session.Occurrence, error) {
	return p.occurrences(ctx, datasetID, "clicked_documents")
}

func (p *PostgresStore) GetSkipped(ctx context.Context, datasetID int64) ([]session.Occurrence, error) {
	return p.occurrences(ctx, datasetID, "skipped_documents")
}

// occurrences explodes one array column. column is never user input.
func (p *PostgresStore) occurrences(ctx context.Context, datasetID int64, column string) ([]session.Occurrence, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT s.session_id, q.search_term, u.document_id
FROM searches s
JOIN queries q ON q.query_id = s.query_id
CROSS JOIN LATERAL unnest(s.`+column+`) WITH ORDINALITY AS u(document_id, ord)
WHERE s.dataset_id = $1
ORDER BY s.id, u.ord`, datasetID)
	if err != nil {
		return nil, errors.StorageError("query "+column, err)
	}
	defer rows.Close()

	var out []session.Occurrence
	for rows.Next() {
		var o session.Occurrence
		if err := rows.Scan(&o.SessionID, &o.SearchTerm, &o.DocumentID); err != nil {
			return nil, errors.StorageError("scan "+column, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("iterate "+column, err)
	}
	return out, nil
}

func (p *PostgresStore) SaveContentItems(ctx context.Context, items []ContentItem) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("begin content import", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO content_items (content_id, base_path, title) VALUES ($1, $2, NULLIF($3, ''))
ON CONFLICT (content_id) DO UPDATE SET base_path = EXCLUDED.base_path, title = EXCLUDED.title`)
	if err != nil {
		return errors.StorageError("prepare content import", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if it.ContentID == "" {
			return errors.ValidationError("content item has no content id")
		}
		if _, err := stmt.ExecContext(ctx, it.ContentID, it.BasePath, it.Title); err != nil {
			return errors.StorageError("insert content item", err).WithDetail("content_id", it.ContentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("commit content import", err)
	}
	p.log.Info("Imported content items", "count", len(items))
	return nil
}

func (p *PostgresStore) GetContentMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT content_id, base_path, COALESCE(title, '') FROM content_items`)
	if err != nil {
		return nil, errors.StorageError("query content items", err)
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		var it ContentItem
		if err := rows.Scan(&it.ContentID, &it.BasePath, &it.Title); err != nil {
			return nil, errors.StorageError("scan content item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("iterate content items", err)
	}
	return contentMetadata(items), nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
