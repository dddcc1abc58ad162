// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/lenswork/studio-sign/internal/models"
)

// EnvelopeStore defines operations for envelope management.
type EnvelopeStore interface {
	// Create creates a new envelope.
	Create(ctx context.Context, env *models.Envelope) error
	// Get retrieves an envelope by ID.
	Get(ctx context.Context, id string) (*models.Envelope, error)
	// GetForUpdate retrieves an envelope and, inside a transaction, locks its
	// row so concurrent writers to the same aggregate serialize.
	GetForUpdate(ctx context.Context, id string) (*models.Envelope, error)
	// List retrieves all envelopes created by the given user, newest first.
	List(ctx context.Context, createdBy string) ([]*models.Envelope, error)
	// Update updates an existing envelope.
	Update(ctx context.Context, env *models.Envelope) error
	// Stats returns envelope counts grouped by status.
	Stats(ctx context.Context) (*models.EnvelopeStats, error)
	// ListOverdue retrieves non-terminal envelopes whose expiry is strictly
	// before the given time.
	ListOverdue(ctx context.Context, before time.Time) ([]*models.Envelope, error)
}

// DocumentStore defines operations for envelope documents.
type DocumentStore interface {
	// Create attaches a document to an envelope.
	Create(ctx context.Context, doc *models.Document) error
	// Get retrieves a document by ID.
	Get(ctx context.Context, id string) (*models.Document, error)
	// ListByEnvelope retrieves all documents attached to an envelope.
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Document, error)
	// Delete removes a document.
	Delete(ctx context.Context, id string) error
	// CountByEnvelope returns the number of documents attached to an envelope.
	CountByEnvelope(ctx context.Context, envelopeID string) (int, error)
}

// SignerStore defines operations for envelope signers, including the
// magic-link, OTP and session secrets that live on the signer row.
type SignerStore interface {
	// Create adds a signer to an envelope.
	Create(ctx context.Context, signer *models.Signer) error
	// Get retrieves a signer by ID.
	Get(ctx context.Context, id string) (*models.Signer, error)
	// GetByToken retrieves a signer by exact magic-link token match.
	GetByToken(ctx context.Context, token string) (*models.Signer, error)
	// ListByEnvelope retrieves all signers of an envelope ordered by sequence number.
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signer, error)
	// Update updates a signer's status and timestamps.
	Update(ctx context.Context, signer *models.Signer) error
	// UpdateAuth replaces a signer's auth fields.
	UpdateAuth(ctx context.Context, signerID string, auth *models.SignerAuth) error
	// IncrementFailedAttempts increments the failed-attempt counter only if it
	// currently equals expected, returning the new count. Returns
	// ErrConcurrentModification when another attempt got there first.
	IncrementFailedAttempts(ctx context.Context, signerID string, expected int) (int, error)
	// ClaimOTP atomically clears the signer's one-time code if it still
	// equals code, reporting whether this caller consumed it. At most one
	// concurrent claim of the same code succeeds.
	ClaimOTP(ctx context.Context, signerID, code string) (bool, error)
	// Delete removes a signer.
	Delete(ctx context.Context, id string) error
	// CountByEnvelope returns the number of signers on an envelope.
	CountByEnvelope(ctx context.Context, envelopeID string) (int, error)
}

// SignatureStore defines operations for signature artifacts.
type SignatureStore interface {
	// Create creates a signature record paired with a signer.
	Create(ctx context.Context, sig *models.Signature) error
	// Get retrieves a signature by ID.
	Get(ctx context.Context, id string) (*models.Signature, error)
	// GetBySigner retrieves a signature by its composite key.
	GetBySigner(ctx context.Context, envelopeID, signerID string) (*models.Signature, error)
	// ListByEnvelope retrieves all signatures of an envelope.
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signature, error)
	// Update updates an existing signature.
	Update(ctx context.Context, sig *models.Signature) error
	// DeleteBySigner removes the signature paired with a signer.
	DeleteBySigner(ctx context.Context, envelopeID, signerID string) error
	// AllSigned reports whether every signature of the envelope is SIGNED.
	AllSigned(ctx context.Context, envelopeID string) (bool, error)
}

// AuditStore defines operations for the append-only envelope audit log.
type AuditStore interface {
	// Append writes one audit record. Records are never updated or deleted.
	Append(ctx context.Context, entry *models.EnvelopeAuditLog) error
	// ListByEnvelope retrieves audit records for an envelope, oldest first.
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeAuditLog, error)
}

// AdminUserStore defines operations for back-office user management.
type AdminUserStore interface {
	// Create creates a new admin user with hashed password.
	Create(ctx context.Context, email, password, name string) (*models.AdminUser, error)
	// GetByEmail retrieves an admin user by email.
	GetByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	// GetByID retrieves an admin user by ID.
	GetByID(ctx context.Context, id string) (*models.AdminUser, error)
	// Authenticate verifies credentials and returns the user.
	Authenticate(ctx context.Context, email, password string) (*models.AdminUser, error)
	// Count returns the total number of admin users.
	Count(ctx context.Context) (int, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Envelopes returns the EnvelopeStore for envelope operations.
	Envelopes() EnvelopeStore
	// Documents returns the DocumentStore for document operations.
	Documents() DocumentStore
	// Signers returns the SignerStore for signer operations.
	Signers() SignerStore
	// Signatures returns the SignatureStore for signature operations.
	Signatures() SignatureStore
	// Audit returns the AuditStore for audit log operations.
	Audit() AuditStore
	// AdminUsers returns the AdminUserStore for back-office users.
	AdminUsers() AdminUserStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
