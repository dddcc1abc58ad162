package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
)

// DocumentStore implements store.DocumentStore using PostgreSQL.
type DocumentStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *DocumentStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create attaches a document to an envelope.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO envelope_documents (id, envelope_id, name, file_name, file_path, file_hash, file_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.conn().ExecContext(ctx, query,
		doc.ID,
		doc.EnvelopeID,
		doc.Name,
		doc.FileName,
		doc.FilePath,
		doc.FileHash,
		doc.FileSize,
		doc.CreatedAt,
	)
	return err
}

// Get retrieves a document by ID.
func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id, envelope_id, name, file_name, file_path, file_hash, file_size, created_at
		FROM envelope_documents WHERE id = $1
	`

	var doc models.Document
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.EnvelopeID, &doc.Name, &doc.FileName,
		&doc.FilePath, &doc.FileHash, &doc.FileSize, &doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByEnvelope retrieves all documents attached to an envelope.
func (s *DocumentStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Document, error) {
	query := `
		SELECT id, envelope_id, name, file_name, file_path, file_hash, file_size, created_at
		FROM envelope_documents WHERE envelope_id = $1 ORDER BY created_at
	`

	rows, err := s.conn().QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID, &doc.EnvelopeID, &doc.Name, &doc.FileName,
			&doc.FilePath, &doc.FileHash, &doc.FileSize, &doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		documents = append(documents, &doc)
	}
	return documents, rows.Err()
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM envelope_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountByEnvelope returns the number of documents attached to an envelope.
func (s *DocumentStore) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM envelope_documents WHERE envelope_id = $1`, envelopeID,
	).Scan(&count)
	return count, err
}
