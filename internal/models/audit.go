package models

import "time"

// AuditAction identifies the kind of envelope event recorded in the audit log.
type AuditAction string

const (
	AuditEnvelopeCreated   AuditAction = "ENVELOPE_CREATED"
	AuditEnvelopeUpdated   AuditAction = "ENVELOPE_UPDATED"
	AuditEnvelopeSent      AuditAction = "ENVELOPE_SENT"
	AuditEnvelopeCompleted AuditAction = "ENVELOPE_COMPLETED"
	AuditEnvelopeCancelled AuditAction = "ENVELOPE_CANCELLED"
	AuditEnvelopeExpired   AuditAction = "ENVELOPE_EXPIRED"
	AuditDocumentAdded     AuditAction = "DOCUMENT_ADDED"
	AuditDocumentRemoved   AuditAction = "DOCUMENT_REMOVED"
	AuditSignerAdded       AuditAction = "SIGNER_ADDED"
	AuditSignerRemoved     AuditAction = "SIGNER_REMOVED"
	AuditSignerViewed      AuditAction = "SIGNER_VIEWED"
	AuditSignerSigned      AuditAction = "SIGNER_SIGNED"
	AuditSignerDeclined    AuditAction = "SIGNER_DECLINED"
	AuditOTPIssued         AuditAction = "OTP_ISSUED"
	AuditOTPVerified       AuditAction = "OTP_VERIFIED"
	AuditLinkRevoked       AuditAction = "LINK_REVOKED"
)

// EnvelopeAuditLog is one append-only audit record. Rows are never updated
// or deleted.
type EnvelopeAuditLog struct {
	ID         string         `json:"id"`
	EnvelopeID string         `json:"envelope_id"`
	Action     AuditAction    `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
