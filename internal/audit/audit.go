// Package audit provides typed envelope audit events and an append-only
// recorder backed by the audit store.
package audit

import (
	"context"
	"log/slog"

	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
)

// Event is one recordable envelope occurrence. Each concrete event carries
// the structured metadata for its action kind.
type Event interface {
	// Action returns the audit action this event records.
	Action() models.AuditAction
	// Metadata returns the structured payload stored with the record.
	Metadata() map[string]any
}

// EnvelopeCreated records envelope creation.
type EnvelopeCreated struct {
	Name     string
	Workflow models.SigningWorkflow
}

func (e EnvelopeCreated) Action() models.AuditAction { return models.AuditEnvelopeCreated }
func (e EnvelopeCreated) Metadata() map[string]any {
	return map[string]any{"name": e.Name, "workflow": string(e.Workflow)}
}

// EnvelopeUpdated records a draft envelope edit.
type EnvelopeUpdated struct {
	Fields []string
}

func (e EnvelopeUpdated) Action() models.AuditAction { return models.AuditEnvelopeUpdated }
func (e EnvelopeUpdated) Metadata() map[string]any {
	return map[string]any{"fields": e.Fields}
}

// EnvelopeSent records an envelope being sent to its signers.
type EnvelopeSent struct {
	SignerCount int
}

func (e EnvelopeSent) Action() models.AuditAction { return models.AuditEnvelopeSent }
func (e EnvelopeSent) Metadata() map[string]any {
	return map[string]any{"signer_count": e.SignerCount}
}

// EnvelopeCompleted records the final signature landing.
type EnvelopeCompleted struct{}

func (EnvelopeCompleted) Action() models.AuditAction { return models.AuditEnvelopeCompleted }
func (EnvelopeCompleted) Metadata() map[string]any   { return nil }

// EnvelopeCancelled records cancellation, whether administrative or via decline.
type EnvelopeCancelled struct {
	Reason string
}

func (e EnvelopeCancelled) Action() models.AuditAction { return models.AuditEnvelopeCancelled }
func (e EnvelopeCancelled) Metadata() map[string]any {
	if e.Reason == "" {
		return nil
	}
	return map[string]any{"reason": e.Reason}
}

// EnvelopeExpired records an envelope passing its expiry.
type EnvelopeExpired struct{}

func (EnvelopeExpired) Action() models.AuditAction { return models.AuditEnvelopeExpired }
func (EnvelopeExpired) Metadata() map[string]any   { return nil }

// DocumentAdded records a document attachment.
type DocumentAdded struct {
	DocumentID string
	FileName   string
	FileHash   string
}

func (e DocumentAdded) Action() models.AuditAction { return models.AuditDocumentAdded }
func (e DocumentAdded) Metadata() map[string]any {
	return map[string]any{"document_id": e.DocumentID, "file_name": e.FileName, "file_hash": e.FileHash}
}

// DocumentRemoved records a document removal from a draft.
type DocumentRemoved struct {
	DocumentID string
}

func (e DocumentRemoved) Action() models.AuditAction { return models.AuditDocumentRemoved }
func (e DocumentRemoved) Metadata() map[string]any {
	return map[string]any{"document_id": e.DocumentID}
}

// SignerAdded records a signer being invited.
type SignerAdded struct {
	SignerID string
	Email    string
}

func (e SignerAdded) Action() models.AuditAction { return models.AuditSignerAdded }
func (e SignerAdded) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID, "email": e.Email}
}

// SignerRemoved records a signer removal from a draft.
type SignerRemoved struct {
	SignerID string
}

func (e SignerRemoved) Action() models.AuditAction { return models.AuditSignerRemoved }
func (e SignerRemoved) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID}
}

// SignerViewed records a signer opening the envelope.
type SignerViewed struct {
	SignerID string
}

func (e SignerViewed) Action() models.AuditAction { return models.AuditSignerViewed }
func (e SignerViewed) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID}
}

// SignerSigned records a captured signature.
type SignerSigned struct {
	SignerID      string
	SignatureHash string
	PageNumber    int
}

func (e SignerSigned) Action() models.AuditAction { return models.AuditSignerSigned }
func (e SignerSigned) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID, "signature_hash": e.SignatureHash, "page_number": e.PageNumber}
}

// SignerDeclined records a signer refusing to sign.
type SignerDeclined struct {
	SignerID string
	Reason   string
}

func (e SignerDeclined) Action() models.AuditAction { return models.AuditSignerDeclined }
func (e SignerDeclined) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID, "reason": e.Reason}
}

// OTPIssued records a one-time code being generated for a signer.
type OTPIssued struct {
	SignerID string
}

func (e OTPIssued) Action() models.AuditAction { return models.AuditOTPIssued }
func (e OTPIssued) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID}
}

// OTPVerified records a successful code verification. This is the transition
// that grants signing capability.
type OTPVerified struct {
	SignerID string
}

func (e OTPVerified) Action() models.AuditAction { return models.AuditOTPVerified }
func (e OTPVerified) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID}
}

// LinkRevoked records administrative revocation of a signer's access.
type LinkRevoked struct {
	SignerID string
}

func (e LinkRevoked) Action() models.AuditAction { return models.AuditLinkRevoked }
func (e LinkRevoked) Metadata() map[string]any {
	return map[string]any{"signer_id": e.SignerID}
}

// Recorder appends audit events for envelopes.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Record appends one event through the given audit store. When called with a
// transaction-scoped store the append commits with the primary transition;
// a failed append then fails the transaction.
func (r *Recorder) Record(ctx context.Context, audits store.AuditStore, envelopeID, actor string, event Event) error {
	entry := &models.EnvelopeAuditLog{
		EnvelopeID: envelopeID,
		Action:     event.Action(),
		Actor:      actor,
		Metadata:   event.Metadata(),
	}
	if err := audits.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append audit record",
			"envelope_id", envelopeID,
			"action", string(event.Action()),
			"error", err,
		)
		return err
	}
	return nil
}

// RecordBestEffort appends one event outside a transaction. Failures are
// logged and swallowed so a notification-grade record never blocks the caller.
func (r *Recorder) RecordBestEffort(ctx context.Context, audits store.AuditStore, envelopeID, actor string, event Event) {
	_ = r.Record(ctx, audits, envelopeID, actor, event)
}
