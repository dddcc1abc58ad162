// Package postgres provides the PostgreSQL implementation of the store interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lenswork/studio-sign/internal/store"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	envelopes  *EnvelopeStore
	documents  *DocumentStore
	signers    *SignerStore
	signatures *SignatureStore
	audit      *AuditStore
	adminUsers *AdminUserStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}
	s.envelopes = &EnvelopeStore{db: db, logger: logger}
	s.documents = &DocumentStore{db: db, logger: logger}
	s.signers = &SignerStore{db: db, logger: logger}
	s.signatures = &SignatureStore{db: db, logger: logger}
	s.audit = &AuditStore{db: db, logger: logger}
	s.adminUsers = &AdminUserStore{db: db, logger: logger}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// Envelopes returns the EnvelopeStore.
func (s *PostgresStore) Envelopes() store.EnvelopeStore {
	return s.envelopes
}

// Documents returns the DocumentStore.
func (s *PostgresStore) Documents() store.DocumentStore {
	return s.documents
}

// Signers returns the SignerStore.
func (s *PostgresStore) Signers() store.SignerStore {
	return s.signers
}

// Signatures returns the SignatureStore.
func (s *PostgresStore) Signatures() store.SignatureStore {
	return s.signatures
}

// Audit returns the AuditStore.
func (s *PostgresStore) Audit() store.AuditStore {
	return s.audit
}

// AdminUsers returns the AdminUserStore.
func (s *PostgresStore) AdminUsers() store.AdminUserStore {
	return s.adminUsers
}

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txs := &txStore{
		tx:     tx,
		logger: s.logger,
	}

	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger

	envelopes  *EnvelopeStore
	documents  *DocumentStore
	signers    *SignerStore
	signatures *SignatureStore
	audit      *AuditStore
	adminUsers *AdminUserStore
}

func (s *txStore) Envelopes() store.EnvelopeStore {
	if s.envelopes == nil {
		s.envelopes = &EnvelopeStore{tx: s.tx, logger: s.logger}
	}
	return s.envelopes
}

func (s *txStore) Documents() store.DocumentStore {
	if s.documents == nil {
		s.documents = &DocumentStore{tx: s.tx, logger: s.logger}
	}
	return s.documents
}

func (s *txStore) Signers() store.SignerStore {
	if s.signers == nil {
		s.signers = &SignerStore{tx: s.tx, logger: s.logger}
	}
	return s.signers
}

func (s *txStore) Signatures() store.SignatureStore {
	if s.signatures == nil {
		s.signatures = &SignatureStore{tx: s.tx, logger: s.logger}
	}
	return s.signatures
}

func (s *txStore) Audit() store.AuditStore {
	if s.audit == nil {
		s.audit = &AuditStore{tx: s.tx, logger: s.logger}
	}
	return s.audit
}

func (s *txStore) AdminUsers() store.AdminUserStore {
	if s.adminUsers == nil {
		s.adminUsers = &AdminUserStore{tx: s.tx, logger: s.logger}
	}
	return s.adminUsers
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Ping(ctx context.Context) error {
	// The transaction itself is the liveness proof.
	return nil
}

func (s *txStore) Close() error {
	// No-op for transaction store
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
