package models

import "time"

// SignerStatus represents the current state of a signer.
type SignerStatus string

const (
	// SignerStatusPending indicates the signer has not opened their link.
	SignerStatusPending SignerStatus = "PENDING"
	// SignerStatusViewed indicates the signer has opened the envelope.
	SignerStatusViewed SignerStatus = "VIEWED"
	// SignerStatusSigned indicates the signer has signed.
	SignerStatusSigned SignerStatus = "SIGNED"
	// SignerStatusDeclined indicates the signer refused to sign.
	SignerStatusDeclined SignerStatus = "DECLINED"
	// SignerStatusExpired indicates the signer's access expired before signing.
	SignerStatusExpired SignerStatus = "EXPIRED"
)

// Signer represents a party invited to sign an envelope. Email is unique
// within an envelope; MagicLinkToken is unique system-wide.
type Signer struct {
	ID             string       `json:"id"`
	EnvelopeID     string       `json:"envelope_id"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	Role           string       `json:"role,omitempty"`
	SequenceNumber *int         `json:"sequence_number,omitempty"`
	Status         SignerStatus `json:"status"`
	ViewedAt       *time.Time   `json:"viewed_at,omitempty"`
	SignedAt       *time.Time   `json:"signed_at,omitempty"`
	DeclinedAt     *time.Time   `json:"declined_at,omitempty"`
	DeclinedReason string       `json:"declined_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`

	// Auth holds the signer's magic-link, OTP and session secrets.
	// Never serialized in API responses.
	Auth SignerAuth `json:"-"`
}

// SignerAuth holds the mutable passwordless-auth fields for one signer.
// Token and session comparisons are exact; expiry is strict (expired iff
// now is after the stored timestamp).
type SignerAuth struct {
	MagicLinkToken     string
	MagicLinkExpiresAt *time.Time
	OTPCode            string
	OTPExpiresAt       *time.Time
	FailedAttempts     int
	SessionID          string
	SessionExpiresAt   *time.Time
}

// IsTerminal returns true if the signer can take no further action.
func (s *Signer) IsTerminal() bool {
	switch s.Status {
	case SignerStatusSigned, SignerStatusDeclined, SignerStatusExpired:
		return true
	}
	return false
}

// LinkExpired returns true if the magic link expired strictly before now.
func (a *SignerAuth) LinkExpired(now time.Time) bool {
	return a.MagicLinkExpiresAt != nil && now.After(*a.MagicLinkExpiresAt)
}

// OTPExpired returns true if the OTP expired strictly before now.
func (a *SignerAuth) OTPExpired(now time.Time) bool {
	return a.OTPExpiresAt == nil || now.After(*a.OTPExpiresAt)
}

// SessionExpired returns true if the signing session expired strictly before now.
func (a *SignerAuth) SessionExpired(now time.Time) bool {
	return a.SessionExpiresAt == nil || now.After(*a.SessionExpiresAt)
}
