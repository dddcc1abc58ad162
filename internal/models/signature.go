package models

import "time"

// SignatureStatus represents the state of a signature artifact.
type SignatureStatus string

const (
	// SignatureStatusPending indicates the signature has not been captured.
	SignatureStatusPending SignatureStatus = "PENDING"
	// SignatureStatusSigned indicates the signature has been captured.
	SignatureStatusSigned SignatureStatus = "SIGNED"
	// SignatureStatusDeclined indicates the signer declined.
	SignatureStatusDeclined SignatureStatus = "DECLINED"
)

// Signature is the signing artifact, one-to-one with a signer within an
// envelope (composite key EnvelopeID+SignerID). SignatureHash is the SHA-256
// digest of SignatureDataURL; once set it must always re-verify against the
// stored data URL.
type Signature struct {
	ID               string          `json:"id"`
	EnvelopeID       string          `json:"envelope_id"`
	SignerID         string          `json:"signer_id"`
	Status           SignatureStatus `json:"status"`
	SignatureDataURL string          `json:"signature_data_url,omitempty"`
	InitialsDataURL  string          `json:"initials_data_url,omitempty"`
	SignatureHash    string          `json:"signature_hash,omitempty"`
	PageNumber       int             `json:"page_number,omitempty"`
	PositionX        float64         `json:"position_x,omitempty"`
	PositionY        float64         `json:"position_y,omitempty"`
	SignedAt         *time.Time      `json:"signed_at,omitempty"`
	SignerIP         string          `json:"signer_ip,omitempty"`
	SignerUserAgent  string          `json:"signer_user_agent,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
