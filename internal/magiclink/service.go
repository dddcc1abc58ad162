// Package magiclink implements passwordless signer authentication: magic-link
// tokens, one-time codes and short-lived signing sessions.
package magiclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lenswork/studio-sign/internal/audit"
	"github.com/lenswork/studio-sign/internal/mail"
	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
	"github.com/lenswork/studio-sign/internal/token"
)

// Errors returned by the magiclink service. Callers map these to distinct,
// actionable messages without revealing whether a token exists system-wide.
var (
	// ErrSignerNotFound is returned when the subject does not exist.
	ErrSignerNotFound = errors.New("signer not found")
	// ErrLinkNotFound is returned when no signer matches the presented token.
	ErrLinkNotFound = errors.New("signing link not found")
	// ErrLinkExpired is returned when the magic link is past its expiry.
	ErrLinkExpired = errors.New("signing link has expired")
	// ErrLinkInvalid is returned when the link exists but no longer grants
	// access. Deliberately does not distinguish terminal signers from lockout.
	ErrLinkInvalid = errors.New("signing link is no longer valid")
	// ErrOTPExpired is returned when no live code exists for the signer.
	ErrOTPExpired = errors.New("verification code expired, request a new one")
	// ErrOTPMismatch is returned when the submitted code is wrong.
	ErrOTPMismatch = errors.New("verification code does not match")
	// ErrLockedOut is returned once the failed-attempt ceiling is reached.
	ErrLockedOut = errors.New("too many failed attempts")
)

// MaxAttempts is the failed-attempt ceiling shared between link validation
// and OTP verification. Issuing a fresh token or code resets the counter.
const MaxAttempts = 5

// Default expiries.
const (
	DefaultLinkExpiry    = 72 * time.Hour
	DefaultOTPExpiry     = 10 * time.Minute
	DefaultSessionExpiry = 24 * time.Hour
)

// MismatchError is returned on a wrong OTP submission and carries the
// number of attempts left before lockout.
type MismatchError struct {
	AttemptsRemaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verification code does not match (%d attempts remaining)", e.AttemptsRemaining)
}

// Unwrap lets errors.Is match ErrOTPMismatch.
func (e *MismatchError) Unwrap() error { return ErrOTPMismatch }

// Link is an issued magic link.
type Link struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTP is an issued one-time code.
type OTP struct {
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is an issued signing session.
type Session struct {
	ID        string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds magiclink service configuration.
type Config struct {
	// BaseURL is the public URL prefix signing links are built from.
	BaseURL string
	// LinkExpiry is the magic-link TTL (default 72h).
	LinkExpiry time.Duration
	// OTPExpiry is the one-time-code TTL (default 10m).
	OTPExpiry time.Duration
	// SessionExpiry is the signing-session TTL (default 24h).
	SessionExpiry time.Duration
}

// Service issues and validates passwordless signing credentials.
type Service struct {
	store    store.Store
	tokens   token.Source
	mailer   mail.Mailer
	recorder *audit.Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a magiclink service. A nil token source falls back to
// crypto/rand; a nil mailer falls back to log-only delivery.
func NewService(st store.Store, tokens token.Source, mailer mail.Mailer, recorder *audit.Recorder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens == nil {
		tokens = token.NewCryptoSource()
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	if recorder == nil {
		recorder = audit.NewRecorder(logger)
	}
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = DefaultLinkExpiry
	}
	if cfg.OTPExpiry <= 0 {
		cfg.OTPExpiry = DefaultOTPExpiry
	}
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = DefaultSessionExpiry
	}
	return &Service{
		store:    st,
		tokens:   tokens,
		mailer:   mailer,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SigningURL builds the public URL for a magic-link token.
func (s *Service) SigningURL(tok string) string {
	return s.cfg.BaseURL + "/sign/" + tok
}

// IssueLink generates a fresh magic link for a signer, stores it and resets
// the failed-attempt counter. Email dispatch is the caller's concern.
func (s *Service) IssueLink(ctx context.Context, signerID string) (*Link, error) {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return nil, ErrSignerNotFound
	}

	tok, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	expiresAt := s.now().Add(s.cfg.LinkExpiry)

	auth := signer.Auth
	auth.MagicLinkToken = tok
	auth.MagicLinkExpiresAt = &expiresAt
	auth.OTPCode = ""
	auth.OTPExpiresAt = nil
	auth.FailedAttempts = 0
	if err := s.store.Signers().UpdateAuth(ctx, signerID, &auth); err != nil {
		return nil, fmt.Errorf("storing magic link: %w", err)
	}

	return &Link{Token: tok, URL: s.SigningURL(tok), ExpiresAt: expiresAt}, nil
}

// ValidateLink resolves a magic-link token to its signer. Returns
// ErrLinkNotFound for unknown tokens, ErrLinkExpired past expiry and
// ErrLinkInvalid for terminal signers or locked-out subjects.
func (s *Service) ValidateLink(ctx context.Context, tok string) (*models.Signer, error) {
	if tok == "" {
		return nil, ErrLinkNotFound
	}
	signer, err := s.store.Signers().GetByToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	if signer == nil {
		return nil, ErrLinkNotFound
	}
	if signer.Auth.LinkExpired(s.now()) {
		return nil, ErrLinkExpired
	}
	if signer.Status == models.SignerStatusSigned || signer.Auth.FailedAttempts >= MaxAttempts {
		return nil, ErrLinkInvalid
	}
	return signer, nil
}

// IssueOTP generates a 6-digit code for a signer, stores it with its expiry,
// resets the failed-attempt counter and hands the code to the mailer.
// Delivery failure is logged, never propagated.
func (s *Service) IssueOTP(ctx context.Context, signerID string) (*OTP, error) {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return nil, ErrSignerNotFound
	}
	if signer.IsTerminal() {
		return nil, ErrLinkInvalid
	}

	code, err := s.tokens.OTP()
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}
	expiresAt := s.now().Add(s.cfg.OTPExpiry)

	auth := signer.Auth
	auth.OTPCode = code
	auth.OTPExpiresAt = &expiresAt
	auth.FailedAttempts = 0
	if err := s.store.Signers().UpdateAuth(ctx, signerID, &auth); err != nil {
		return nil, fmt.Errorf("storing code: %w", err)
	}

	msg := mail.SigningOTP(signer.Email, code, int(s.cfg.OTPExpiry.Minutes()))
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send verification code", "signer_id", signerID, "error", err)
	}
	s.recorder.RecordBestEffort(ctx, s.store.Audit(), signer.EnvelopeID, signer.Email, audit.OTPIssued{SignerID: signerID})

	return &OTP{Code: code, ExpiresAt: expiresAt}, nil
}

// VerifyOTP checks a submitted code. On match it clears the code, mints a
// signing session, resets the failed-attempt counter and records the audit
// event in one transaction. On mismatch it increments the counter with a
// conditional update and returns a MismatchError with attempts remaining;
// reaching zero locks the subject out until a new code is issued.
func (s *Service) VerifyOTP(ctx context.Context, signerID, submitted string) (*Session, error) {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return nil, ErrSignerNotFound
	}
	if signer.IsTerminal() {
		return nil, ErrLinkInvalid
	}
	if signer.Auth.FailedAttempts >= MaxAttempts {
		return nil, ErrLockedOut
	}
	if signer.Auth.OTPCode == "" || signer.Auth.OTPExpired(s.now()) {
		return nil, ErrOTPExpired
	}

	if !token.SecureCompare(signer.Auth.OTPCode, submitted) {
		attempts, err := s.store.Signers().IncrementFailedAttempts(ctx, signerID, signer.Auth.FailedAttempts)
		if errors.Is(err, store.ErrConcurrentModification) {
			// Another attempt was counted first; fail closed without
			// consuming an extra attempt.
			if attempts >= MaxAttempts {
				return nil, ErrLockedOut
			}
			return nil, &MismatchError{AttemptsRemaining: MaxAttempts - attempts}
		}
		if err != nil {
			return nil, fmt.Errorf("counting failed attempt: %w", err)
		}
		remaining := MaxAttempts - attempts
		if remaining <= 0 {
			return nil, ErrLockedOut
		}
		return nil, &MismatchError{AttemptsRemaining: remaining}
	}

	sessionID, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("generating session: %w", err)
	}
	sessionExpiry := s.now().Add(s.cfg.SessionExpiry)

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		// Claim the code inside the transaction: the conditional clear is
		// the single atomic read-modify-write, so a second concurrent
		// submission of the same code finds it already consumed.
		claimed, err := tx.Signers().ClaimOTP(ctx, signerID, submitted)
		if err != nil {
			return fmt.Errorf("claiming code: %w", err)
		}
		if !claimed {
			return ErrOTPExpired
		}

		current, err := tx.Signers().Get(ctx, signerID)
		if err != nil {
			return fmt.Errorf("loading signer: %w", err)
		}
		if current == nil {
			return ErrSignerNotFound
		}

		auth := current.Auth
		auth.OTPCode = ""
		auth.OTPExpiresAt = nil
		auth.FailedAttempts = 0
		auth.SessionID = sessionID
		auth.SessionExpiresAt = &sessionExpiry
		if err := tx.Signers().UpdateAuth(ctx, signerID, &auth); err != nil {
			return fmt.Errorf("storing session: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), signer.EnvelopeID, signer.Email, audit.OTPVerified{SignerID: signerID})
	})
	if err != nil {
		return nil, err
	}

	return &Session{ID: sessionID, ExpiresAt: sessionExpiry}, nil
}

// ValidateSession reports whether the presented session currently grants
// signing capability for the signer.
func (s *Service) ValidateSession(ctx context.Context, signerID, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return false, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return false, nil
	}
	if signer.Status == models.SignerStatusSigned {
		return false, nil
	}
	if !token.SecureCompare(signer.Auth.SessionID, sessionID) {
		return false, nil
	}
	if signer.Auth.SessionExpired(s.now()) {
		return false, nil
	}
	return true, nil
}

// ExtendSession pushes a currently-valid session's expiry forward by the
// given duration. Returns nil without error when the session is not valid.
func (s *Service) ExtendSession(ctx context.Context, signerID, sessionID string, by time.Duration) (*time.Time, error) {
	ok, err := s.ValidateSession(ctx, signerID, sessionID)
	if err != nil || !ok {
		return nil, err
	}
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return nil, nil
	}
	newExpiry := signer.Auth.SessionExpiresAt.Add(by)
	auth := signer.Auth
	auth.SessionExpiresAt = &newExpiry
	if err := s.store.Signers().UpdateAuth(ctx, signerID, &auth); err != nil {
		return nil, fmt.Errorf("extending session: %w", err)
	}
	return &newExpiry, nil
}

// InvalidateSession clears the signer's session. Idempotent.
func (s *Service) InvalidateSession(ctx context.Context, signerID string) error {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return ErrSignerNotFound
	}
	auth := signer.Auth
	auth.SessionID = ""
	auth.SessionExpiresAt = nil
	return s.store.Signers().UpdateAuth(ctx, signerID, &auth)
}

// RevokeLink clears the signer's token, code, session and attempt counter.
// Used when reissuing access after expiry or compromise. Idempotent.
func (s *Service) RevokeLink(ctx context.Context, signerID string) error {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return ErrSignerNotFound
	}
	if err := s.store.Signers().UpdateAuth(ctx, signerID, &models.SignerAuth{}); err != nil {
		return fmt.Errorf("revoking link: %w", err)
	}
	s.recorder.RecordBestEffort(ctx, s.store.Audit(), signer.EnvelopeID, signer.Email, audit.LinkRevoked{SignerID: signerID})
	return nil
}
