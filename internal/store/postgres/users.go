package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
)

// AdminUserStore implements store.AdminUserStore using PostgreSQL.
type AdminUserStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *AdminUserStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new admin user with hashed password.
func (s *AdminUserStore) Create(ctx context.Context, email, password, name string) (*models.AdminUser, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now().Unix()

	query := `
		INSERT INTO admin_users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn().ExecContext(ctx, query, id, email, name, string(hashedPassword), now)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateKey
	}
	if err != nil {
		return nil, err
	}

	return &models.AdminUser{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: now,
	}, nil
}

// GetByEmail retrieves an admin user by email.
func (s *AdminUserStore) GetByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	query := `SELECT id, email, name, created_at FROM admin_users WHERE email = $1`

	var user models.AdminUser
	var name sql.NullString
	err := s.conn().QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &name, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	return &user, nil
}

// GetByID retrieves an admin user by ID.
func (s *AdminUserStore) GetByID(ctx context.Context, id string) (*models.AdminUser, error) {
	query := `SELECT id, email, name, created_at FROM admin_users WHERE id = $1`

	var user models.AdminUser
	var name sql.NullString
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &name, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	return &user, nil
}

// Authenticate verifies credentials and returns the user. Returns (nil, nil)
// for both unknown email and wrong password.
func (s *AdminUserStore) Authenticate(ctx context.Context, email, password string) (*models.AdminUser, error) {
	query := `SELECT id, email, name, password_hash, created_at FROM admin_users WHERE email = $1`

	var user models.AdminUser
	var name sql.NullString
	var passwordHash string
	err := s.conn().QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &name, &passwordHash, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, nil
	}
	user.Name = name.String
	return &user, nil
}

// Count returns the total number of admin users.
func (s *AdminUserStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count)
	return count, err
}
