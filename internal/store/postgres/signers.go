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

// SignerStore implements store.SignerStore using PostgreSQL. The signer row
// carries the magic-link, OTP and session secret columns.
type SignerStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SignerStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const signerColumns = `id, envelope_id, name, email, role, sequence_number, status,
	viewed_at, signed_at, declined_at, declined_reason,
	magic_link_token, magic_link_expires_at, otp_code, otp_expires_at,
	failed_attempts, session_id, session_expires_at, created_at`

// Create adds a signer to an envelope.
func (s *SignerStore) Create(ctx context.Context, signer *models.Signer) error {
	if signer.ID == "" {
		signer.ID = uuid.New().String()
	}
	if signer.CreatedAt.IsZero() {
		signer.CreatedAt = time.Now()
	}
	if signer.Status == "" {
		signer.Status = models.SignerStatusPending
	}

	query := `
		INSERT INTO envelope_signers (id, envelope_id, name, email, role, sequence_number, status,
			failed_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`

	_, err := s.conn().ExecContext(ctx, query,
		signer.ID,
		signer.EnvelopeID,
		signer.Name,
		signer.Email,
		signer.Role,
		signer.SequenceNumber,
		string(signer.Status),
		signer.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return err
}

// Get retrieves a signer by ID.
func (s *SignerStore) Get(ctx context.Context, id string) (*models.Signer, error) {
	query := `SELECT ` + signerColumns + ` FROM envelope_signers WHERE id = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, id))
}

// GetByToken retrieves a signer by exact magic-link token match.
func (s *SignerStore) GetByToken(ctx context.Context, token string) (*models.Signer, error) {
	if token == "" {
		return nil, nil
	}
	query := `SELECT ` + signerColumns + ` FROM envelope_signers WHERE magic_link_token = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, token))
}

func (s *SignerStore) scanOne(row *sql.Row) (*models.Signer, error) {
	signer, err := scanSigner(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return signer, nil
}

func scanSigner(scan func(dest ...any) error) (*models.Signer, error) {
	var signer models.Signer
	var status string
	var role, declinedReason, linkToken, otpCode, sessionID sql.NullString
	var seq sql.NullInt64
	var viewedAt, signedAt, declinedAt, linkExpires, otpExpires, sessionExpires sql.NullTime

	err := scan(
		&signer.ID, &signer.EnvelopeID, &signer.Name, &signer.Email, &role, &seq, &status,
		&viewedAt, &signedAt, &declinedAt, &declinedReason,
		&linkToken, &linkExpires, &otpCode, &otpExpires,
		&signer.Auth.FailedAttempts, &sessionID, &sessionExpires, &signer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	signer.Status = models.SignerStatus(status)
	signer.Role = role.String
	signer.DeclinedReason = declinedReason.String
	if seq.Valid {
		n := int(seq.Int64)
		signer.SequenceNumber = &n
	}
	if viewedAt.Valid {
		signer.ViewedAt = &viewedAt.Time
	}
	if signedAt.Valid {
		signer.SignedAt = &signedAt.Time
	}
	if declinedAt.Valid {
		signer.DeclinedAt = &declinedAt.Time
	}
	signer.Auth.MagicLinkToken = linkToken.String
	if linkExpires.Valid {
		signer.Auth.MagicLinkExpiresAt = &linkExpires.Time
	}
	signer.Auth.OTPCode = otpCode.String
	if otpExpires.Valid {
		signer.Auth.OTPExpiresAt = &otpExpires.Time
	}
	signer.Auth.SessionID = sessionID.String
	if sessionExpires.Valid {
		signer.Auth.SessionExpiresAt = &sessionExpires.Time
	}
	return &signer, nil
}

// ListByEnvelope retrieves all signers of an envelope ordered by sequence
// number, then creation time.
func (s *SignerStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signer, error) {
	query := `
		SELECT ` + signerColumns + ` FROM envelope_signers
		WHERE envelope_id = $1
		ORDER BY sequence_number NULLS LAST, created_at
	`

	rows, err := s.conn().QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signers []*models.Signer
	for rows.Next() {
		signer, err := scanSigner(rows.Scan)
		if err != nil {
			return nil, err
		}
		signers = append(signers, signer)
	}
	return signers, rows.Err()
}

// Update updates a signer's status and timestamps. Auth columns are managed
// separately through UpdateAuth.
func (s *SignerStore) Update(ctx context.Context, signer *models.Signer) error {
	query := `
		UPDATE envelope_signers
		SET name = $1, email = $2, role = $3, sequence_number = $4, status = $5,
			viewed_at = $6, signed_at = $7, declined_at = $8, declined_reason = $9
		WHERE id = $10
	`

	res, err := s.conn().ExecContext(ctx, query,
		signer.Name,
		signer.Email,
		signer.Role,
		signer.SequenceNumber,
		string(signer.Status),
		signer.ViewedAt,
		signer.SignedAt,
		signer.DeclinedAt,
		signer.DeclinedReason,
		signer.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateAuth replaces a signer's auth fields.
func (s *SignerStore) UpdateAuth(ctx context.Context, signerID string, auth *models.SignerAuth) error {
	query := `
		UPDATE envelope_signers
		SET magic_link_token = NULLIF($1, ''), magic_link_expires_at = $2,
			otp_code = NULLIF($3, ''), otp_expires_at = $4,
			failed_attempts = $5,
			session_id = NULLIF($6, ''), session_expires_at = $7
		WHERE id = $8
	`

	res, err := s.conn().ExecContext(ctx, query,
		auth.MagicLinkToken,
		auth.MagicLinkExpiresAt,
		auth.OTPCode,
		auth.OTPExpiresAt,
		auth.FailedAttempts,
		auth.SessionID,
		auth.SessionExpiresAt,
		signerID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementFailedAttempts increments the failed-attempt counter only if it
// currently equals expected. The conditional write keeps two concurrent
// wrong submissions from under-counting.
func (s *SignerStore) IncrementFailedAttempts(ctx context.Context, signerID string, expected int) (int, error) {
	query := `
		UPDATE envelope_signers
		SET failed_attempts = failed_attempts + 1
		WHERE id = $1 AND failed_attempts = $2
		RETURNING failed_attempts
	`

	var attempts int
	err := s.conn().QueryRowContext(ctx, query, signerID, expected).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the signer is gone or the counter moved underneath us.
		var current int
		err := s.conn().QueryRowContext(ctx,
			`SELECT failed_attempts FROM envelope_signers WHERE id = $1`, signerID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return current, store.ErrConcurrentModification
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// ClaimOTP atomically clears the signer's one-time code if it still equals
// code. The conditional UPDATE makes the row lock arbitrate concurrent
// submissions: the loser re-evaluates the predicate against the cleared
// column and claims nothing.
func (s *SignerStore) ClaimOTP(ctx context.Context, signerID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	query := `
		UPDATE envelope_signers
		SET otp_code = NULL, otp_expires_at = NULL
		WHERE id = $1 AND otp_code = $2
	`

	res, err := s.conn().ExecContext(ctx, query, signerID, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes a signer.
func (s *SignerStore) Delete(ctx context.Context, id string) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM envelope_signers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountByEnvelope returns the number of signers on an envelope.
func (s *SignerStore) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM envelope_signers WHERE envelope_id = $1`, envelopeID,
	).Scan(&count)
	return count, err
}
