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

// SignatureStore implements store.SignatureStore using PostgreSQL.
type SignatureStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SignatureStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const signatureColumns = `id, envelope_id, signer_id, status, signature_data_url, initials_data_url,
	signature_hash, page_number, position_x, position_y, signed_at, signer_ip, signer_user_agent, created_at`

// Create creates a signature record paired with a signer.
func (s *SignatureStore) Create(ctx context.Context, sig *models.Signature) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	if sig.Status == "" {
		sig.Status = models.SignatureStatusPending
	}

	query := `
		INSERT INTO envelope_signatures (id, envelope_id, signer_id, status, page_number,
			position_x, position_y, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.conn().ExecContext(ctx, query,
		sig.ID,
		sig.EnvelopeID,
		sig.SignerID,
		string(sig.Status),
		sig.PageNumber,
		sig.PositionX,
		sig.PositionY,
		sig.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return err
}

// Get retrieves a signature by ID.
func (s *SignatureStore) Get(ctx context.Context, id string) (*models.Signature, error) {
	query := `SELECT ` + signatureColumns + ` FROM envelope_signatures WHERE id = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, id))
}

// GetBySigner retrieves a signature by its composite key.
func (s *SignatureStore) GetBySigner(ctx context.Context, envelopeID, signerID string) (*models.Signature, error) {
	query := `SELECT ` + signatureColumns + ` FROM envelope_signatures WHERE envelope_id = $1 AND signer_id = $2`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, envelopeID, signerID))
}

func (s *SignatureStore) scanOne(row *sql.Row) (*models.Signature, error) {
	sig, err := scanSignature(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func scanSignature(scan func(dest ...any) error) (*models.Signature, error) {
	var sig models.Signature
	var status string
	var dataURL, initialsURL, hash, ip, userAgent sql.NullString
	var signedAt sql.NullTime

	err := scan(
		&sig.ID, &sig.EnvelopeID, &sig.SignerID, &status, &dataURL, &initialsURL,
		&hash, &sig.PageNumber, &sig.PositionX, &sig.PositionY, &signedAt, &ip, &userAgent, &sig.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sig.Status = models.SignatureStatus(status)
	sig.SignatureDataURL = dataURL.String
	sig.InitialsDataURL = initialsURL.String
	sig.SignatureHash = hash.String
	sig.SignerIP = ip.String
	sig.SignerUserAgent = userAgent.String
	if signedAt.Valid {
		sig.SignedAt = &signedAt.Time
	}
	return &sig, nil
}

// ListByEnvelope retrieves all signatures of an envelope.
func (s *SignatureStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signature, error) {
	query := `SELECT ` + signatureColumns + ` FROM envelope_signatures WHERE envelope_id = $1 ORDER BY created_at`

	rows, err := s.conn().QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signatures []*models.Signature
	for rows.Next() {
		sig, err := scanSignature(rows.Scan)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
	}
	return signatures, rows.Err()
}

// Update updates an existing signature.
func (s *SignatureStore) Update(ctx context.Context, sig *models.Signature) error {
	query := `
		UPDATE envelope_signatures
		SET status = $1, signature_data_url = $2, initials_data_url = $3, signature_hash = $4,
			page_number = $5, position_x = $6, position_y = $7, signed_at = $8,
			signer_ip = $9, signer_user_agent = $10
		WHERE envelope_id = $11 AND signer_id = $12
	`

	res, err := s.conn().ExecContext(ctx, query,
		string(sig.Status),
		sig.SignatureDataURL,
		sig.InitialsDataURL,
		sig.SignatureHash,
		sig.PageNumber,
		sig.PositionX,
		sig.PositionY,
		sig.SignedAt,
		sig.SignerIP,
		sig.SignerUserAgent,
		sig.EnvelopeID,
		sig.SignerID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteBySigner removes the signature paired with a signer.
func (s *SignatureStore) DeleteBySigner(ctx context.Context, envelopeID, signerID string) error {
	res, err := s.conn().ExecContext(ctx,
		`DELETE FROM envelope_signatures WHERE envelope_id = $1 AND signer_id = $2`,
		envelopeID, signerID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AllSigned reports whether every signature of the envelope is SIGNED.
// Returns false for an envelope with no signature rows.
func (s *SignatureStore) AllSigned(ctx context.Context, envelopeID string) (bool, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE status != 'SIGNED'), COUNT(*)
		FROM envelope_signatures WHERE envelope_id = $1
	`

	var unsigned, total int
	if err := s.conn().QueryRowContext(ctx, query, envelopeID).Scan(&unsigned, &total); err != nil {
		return false, err
	}
	return total > 0 && unsigned == 0, nil
}
