// Package models provides data structures for the studio sign service.
package models

import "time"

// EnvelopeStatus represents the current state of an envelope.
type EnvelopeStatus string

const (
	// EnvelopeStatusDraft indicates the envelope is being assembled and has not been sent.
	EnvelopeStatusDraft EnvelopeStatus = "DRAFT"
	// EnvelopeStatusPending indicates the envelope has been sent and is awaiting signatures.
	EnvelopeStatusPending EnvelopeStatus = "PENDING"
	// EnvelopeStatusInProgress indicates at least one signer has viewed or signed.
	EnvelopeStatusInProgress EnvelopeStatus = "IN_PROGRESS"
	// EnvelopeStatusCompleted indicates every signature has been captured.
	EnvelopeStatusCompleted EnvelopeStatus = "COMPLETED"
	// EnvelopeStatusCancelled indicates the envelope was cancelled or declined.
	EnvelopeStatusCancelled EnvelopeStatus = "CANCELLED"
	// EnvelopeStatusExpired indicates the envelope expired before completion.
	EnvelopeStatusExpired EnvelopeStatus = "EXPIRED"
)

// SigningWorkflow controls the order in which signers may sign.
type SigningWorkflow string

const (
	// WorkflowSequential requires signers to sign in sequence-number order.
	WorkflowSequential SigningWorkflow = "SEQUENTIAL"
	// WorkflowParallel allows every signer to sign independently.
	WorkflowParallel SigningWorkflow = "PARALLEL"
)

// Envelope represents a signing request bundling documents and signers.
type Envelope struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Status          EnvelopeStatus  `json:"status"`
	SigningWorkflow SigningWorkflow `json:"signing_workflow"`
	CreatedBy       string          `json:"created_by"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// Nested aggregate, populated on full reads only.
	Documents  []*Document         `json:"documents,omitempty"`
	Signers    []*Signer           `json:"signers,omitempty"`
	Signatures []*Signature        `json:"signatures,omitempty"`
	AuditLog   []*EnvelopeAuditLog `json:"audit_log,omitempty"`
}

// IsTerminal returns true if the envelope is in a final state.
func (e *Envelope) IsTerminal() bool {
	switch e.Status {
	case EnvelopeStatusCompleted, EnvelopeStatusCancelled, EnvelopeStatusExpired:
		return true
	}
	return false
}

// CanSend returns true if the envelope may be sent (or re-sent).
func (e *Envelope) CanSend() bool {
	return e.Status == EnvelopeStatusDraft || e.Status == EnvelopeStatusPending
}

// IsMutable returns true if documents and signers may still be added or removed.
func (e *Envelope) IsMutable() bool {
	return e.Status == EnvelopeStatusDraft
}

// EnvelopeStats holds envelope counts grouped by status.
type EnvelopeStats struct {
	Total      int `json:"total"`
	Draft      int `json:"draft"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Expired    int `json:"expired"`
}
