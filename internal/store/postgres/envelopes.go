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

// EnvelopeStore implements store.EnvelopeStore using PostgreSQL.
type EnvelopeStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *EnvelopeStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const envelopeColumns = `id, name, description, status, signing_workflow, created_by,
	sent_at, completed_at, expires_at, created_at, updated_at`

// Create creates a new envelope.
func (s *EnvelopeStore) Create(ctx context.Context, env *models.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now()
	}
	env.UpdatedAt = env.CreatedAt
	if env.Status == "" {
		env.Status = models.EnvelopeStatusDraft
	}

	query := `
		INSERT INTO envelopes (id, name, description, status, signing_workflow, created_by,
			sent_at, completed_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.conn().ExecContext(ctx, query,
		env.ID,
		env.Name,
		env.Description,
		string(env.Status),
		string(env.SigningWorkflow),
		env.CreatedBy,
		env.SentAt,
		env.CompletedAt,
		env.ExpiresAt,
		env.CreatedAt,
		env.UpdatedAt,
	)
	return err
}

// Get retrieves an envelope by ID.
func (s *EnvelopeStore) Get(ctx context.Context, id string) (*models.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE id = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, id))
}

// GetForUpdate retrieves an envelope with a row-level lock. Meaningful only
// inside a transaction; writers to the same aggregate serialize on it.
func (s *EnvelopeStore) GetForUpdate(ctx context.Context, id string) (*models.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE id = $1 FOR UPDATE`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, id))
}

func (s *EnvelopeStore) scanOne(row *sql.Row) (*models.Envelope, error) {
	var env models.Envelope
	var status, workflow string
	var sentAt, completedAt, expiresAt sql.NullTime

	err := row.Scan(
		&env.ID, &env.Name, &env.Description, &status, &workflow, &env.CreatedBy,
		&sentAt, &completedAt, &expiresAt, &env.CreatedAt, &env.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	env.Status = models.EnvelopeStatus(status)
	env.SigningWorkflow = models.SigningWorkflow(workflow)
	if sentAt.Valid {
		env.SentAt = &sentAt.Time
	}
	if completedAt.Valid {
		env.CompletedAt = &completedAt.Time
	}
	if expiresAt.Valid {
		env.ExpiresAt = &expiresAt.Time
	}
	return &env, nil
}

// List retrieves all envelopes created by the given user, newest first.
func (s *EnvelopeStore) List(ctx context.Context, createdBy string) ([]*models.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE created_by = $1 ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query, createdBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// ListOverdue retrieves non-terminal envelopes whose expiry is strictly
// before the given time.
func (s *EnvelopeStore) ListOverdue(ctx context.Context, before time.Time) ([]*models.Envelope, error) {
	query := `
		SELECT ` + envelopeColumns + ` FROM envelopes
		WHERE expires_at IS NOT NULL AND expires_at < $1
		AND status NOT IN ('COMPLETED', 'CANCELLED', 'EXPIRED')
	`

	rows, err := s.conn().QueryContext(ctx, query, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]*models.Envelope, error) {
	var envelopes []*models.Envelope
	for rows.Next() {
		var env models.Envelope
		var status, workflow string
		var sentAt, completedAt, expiresAt sql.NullTime

		if err := rows.Scan(
			&env.ID, &env.Name, &env.Description, &status, &workflow, &env.CreatedBy,
			&sentAt, &completedAt, &expiresAt, &env.CreatedAt, &env.UpdatedAt,
		); err != nil {
			return nil, err
		}

		env.Status = models.EnvelopeStatus(status)
		env.SigningWorkflow = models.SigningWorkflow(workflow)
		if sentAt.Valid {
			env.SentAt = &sentAt.Time
		}
		if completedAt.Valid {
			env.CompletedAt = &completedAt.Time
		}
		if expiresAt.Valid {
			env.ExpiresAt = &expiresAt.Time
		}

		envelopes = append(envelopes, &env)
	}
	return envelopes, rows.Err()
}

// Update updates an existing envelope.
func (s *EnvelopeStore) Update(ctx context.Context, env *models.Envelope) error {
	env.UpdatedAt = time.Now()

	query := `
		UPDATE envelopes
		SET name = $1, description = $2, status = $3, signing_workflow = $4,
			sent_at = $5, completed_at = $6, expires_at = $7, updated_at = $8
		WHERE id = $9
	`

	res, err := s.conn().ExecContext(ctx, query,
		env.Name,
		env.Description,
		string(env.Status),
		string(env.SigningWorkflow),
		env.SentAt,
		env.CompletedAt,
		env.ExpiresAt,
		env.UpdatedAt,
		env.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Stats returns envelope counts grouped by status.
func (s *EnvelopeStore) Stats(ctx context.Context) (*models.EnvelopeStats, error) {
	query := `SELECT status, COUNT(*) FROM envelopes GROUP BY status`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.EnvelopeStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch models.EnvelopeStatus(status) {
		case models.EnvelopeStatusDraft:
			stats.Draft = count
		case models.EnvelopeStatusPending:
			stats.Pending = count
		case models.EnvelopeStatusInProgress:
			stats.InProgress = count
		case models.EnvelopeStatusCompleted:
			stats.Completed = count
		case models.EnvelopeStatusCancelled:
			stats.Cancelled = count
		case models.EnvelopeStatusExpired:
			stats.Expired = count
		}
	}
	return stats, rows.Err()
}
