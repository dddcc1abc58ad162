package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lenswork/studio-sign/internal/models"
)

// AuditStore implements store.AuditStore using PostgreSQL. Rows are
// append-only; there is deliberately no update or delete.
type AuditStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *AuditStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Append writes one audit record.
func (s *AuditStore) Append(ctx context.Context, entry *models.EnvelopeAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encoding audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO envelope_audit_logs (id, envelope_id, action, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.conn().ExecContext(ctx, query,
		entry.ID,
		entry.EnvelopeID,
		string(entry.Action),
		entry.Actor,
		metadata,
		entry.CreatedAt,
	)
	return err
}

// ListByEnvelope retrieves audit records for an envelope, oldest first.
func (s *AuditStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeAuditLog, error) {
	query := `
		SELECT id, envelope_id, action, actor, metadata, created_at
		FROM envelope_audit_logs WHERE envelope_id = $1 ORDER BY created_at
	`

	rows, err := s.conn().QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.EnvelopeAuditLog
	for rows.Next() {
		var entry models.EnvelopeAuditLog
		var action string
		var actor sql.NullString
		var metadata []byte

		if err := rows.Scan(&entry.ID, &entry.EnvelopeID, &action, &actor, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}

		entry.Action = models.AuditAction(action)
		entry.Actor = actor.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decoding audit metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
