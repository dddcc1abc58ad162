// Package envelope implements the envelope aggregate, its lifecycle state
// machine and the signing-order gate.
package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lenswork/studio-sign/internal/audit"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/mail"
	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
	"github.com/lenswork/studio-sign/internal/token"
	"github.com/lenswork/studio-sign/internal/validation"
)

// Service owns the envelope/document/signer/signature relational graph and
// drives the envelope state machine.
type Service struct {
	store    store.Store
	links    *magiclink.Service
	mailer   mail.Mailer
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an envelope service.
func NewService(st store.Store, links *magiclink.Service, mailer mail.Mailer, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	if recorder == nil {
		recorder = audit.NewRecorder(logger)
	}
	return &Service{
		store:    st,
		links:    links,
		mailer:   mailer,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateInput holds the fields for creating an envelope.
type CreateInput struct {
	Name        string
	Description string
	Workflow    models.SigningWorkflow
	ExpiresAt   *time.Time
}

// Create creates a new envelope in DRAFT.
func (s *Service) Create(ctx context.Context, createdBy string, in CreateInput) (*models.Envelope, error) {
	if err := validation.ValidateEnvelopeName(in.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateDescription(in.Description); err != nil {
		return nil, err
	}
	if in.Workflow == "" {
		in.Workflow = models.WorkflowParallel
	}
	if err := validation.ValidateWorkflow(in.Workflow); err != nil {
		return nil, err
	}

	env := &models.Envelope{
		Name:            in.Name,
		Description:     in.Description,
		Status:          models.EnvelopeStatusDraft,
		SigningWorkflow: in.Workflow,
		CreatedBy:       createdBy,
		ExpiresAt:       in.ExpiresAt,
		CreatedAt:       s.now(),
	}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Envelopes().Create(ctx, env); err != nil {
			return fmt.Errorf("creating envelope: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), env.ID, createdBy,
			audit.EnvelopeCreated{Name: env.Name, Workflow: env.SigningWorkflow})
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// UpdateInput holds the mutable fields of a draft envelope. Nil fields are
// left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Workflow    *models.SigningWorkflow
	ExpiresAt   *time.Time
}

// Update edits a DRAFT envelope.
func (s *Service) Update(ctx context.Context, envelopeID, actor string, in UpdateInput) (*models.Envelope, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if !env.IsMutable() {
		return nil, ErrInvalidState
	}

	var fields []string
	if in.Name != nil {
		if err := validation.ValidateEnvelopeName(*in.Name); err != nil {
			return nil, err
		}
		env.Name = *in.Name
		fields = append(fields, "name")
	}
	if in.Description != nil {
		if err := validation.ValidateDescription(*in.Description); err != nil {
			return nil, err
		}
		env.Description = *in.Description
		fields = append(fields, "description")
	}
	if in.Workflow != nil {
		if err := validation.ValidateWorkflow(*in.Workflow); err != nil {
			return nil, err
		}
		env.SigningWorkflow = *in.Workflow
		fields = append(fields, "signing_workflow")
	}
	if in.ExpiresAt != nil {
		env.ExpiresAt = in.ExpiresAt
		fields = append(fields, "expires_at")
	}
	if len(fields) == 0 {
		return env, nil
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Envelopes().Update(ctx, env); err != nil {
			return fmt.Errorf("updating envelope: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), env.ID, actor, audit.EnvelopeUpdated{Fields: fields})
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// DocumentInput holds the fields for attaching a document.
type DocumentInput struct {
	Name     string
	FileName string
	FilePath string
	Content  []byte
	FileSize int64
}

// AddDocument attaches a document to a DRAFT envelope. The content digest is
// computed here, once, and never recomputed implicitly.
func (s *Service) AddDocument(ctx context.Context, envelopeID, actor string, in DocumentInput) (*models.Document, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if !env.IsMutable() {
		return nil, ErrInvalidState
	}
	if in.Name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "document name is required"}
	}
	if len(in.Content) == 0 {
		return nil, &models.ValidationError{Field: "content", Message: "document content is required"}
	}
	if in.FileSize == 0 {
		in.FileSize = int64(len(in.Content))
	}

	doc := &models.Document{
		EnvelopeID: envelopeID,
		Name:       in.Name,
		FileName:   in.FileName,
		FilePath:   in.FilePath,
		FileHash:   token.Hash(string(in.Content)),
		FileSize:   in.FileSize,
		CreatedAt:  s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Documents().Create(ctx, doc); err != nil {
			return fmt.Errorf("attaching document: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor,
			audit.DocumentAdded{DocumentID: doc.ID, FileName: doc.FileName, FileHash: doc.FileHash})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// RemoveDocument detaches a document. Only permitted while the envelope is DRAFT.
func (s *Service) RemoveDocument(ctx context.Context, envelopeID, documentID, actor string) error {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}
	if !env.IsMutable() {
		return ErrInvalidState
	}
	doc, err := s.store.Documents().Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if doc == nil || doc.EnvelopeID != envelopeID {
		return ErrDocumentNotFound
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Documents().Delete(ctx, documentID); err != nil {
			return fmt.Errorf("removing document: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor, audit.DocumentRemoved{DocumentID: documentID})
	})
}

// SignerInput holds the fields for inviting a signer.
type SignerInput struct {
	Name           string
	Email          string
	Role           string
	SequenceNumber *int
}

// AddSigner invites a signer to a DRAFT envelope and creates the paired
// PENDING signature record. Email must be unique within the envelope; a
// sequential workflow additionally requires a unique sequence number.
func (s *Service) AddSigner(ctx context.Context, envelopeID, actor string, in SignerInput) (*models.Signer, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if !env.IsMutable() {
		return nil, ErrInvalidState
	}
	existing, err := s.store.Signers().ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("listing signers: %w", err)
	}
	if err := validation.ValidateNewSigner(env.SigningWorkflow, existing, in.Name, in.Email, in.SequenceNumber); err != nil {
		return nil, err
	}

	signer := &models.Signer{
		EnvelopeID:     envelopeID,
		Name:           in.Name,
		Email:          in.Email,
		Role:           in.Role,
		SequenceNumber: in.SequenceNumber,
		Status:         models.SignerStatusPending,
		CreatedAt:      s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Signers().Create(ctx, signer); err != nil {
			return fmt.Errorf("creating signer: %w", err)
		}
		sig := &models.Signature{
			EnvelopeID: envelopeID,
			SignerID:   signer.ID,
			Status:     models.SignatureStatusPending,
			CreatedAt:  s.now(),
		}
		if err := tx.Signatures().Create(ctx, sig); err != nil {
			return fmt.Errorf("creating signature record: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor,
			audit.SignerAdded{SignerID: signer.ID, Email: signer.Email})
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// RemoveSigner removes a signer and their paired signature. Only permitted
// while the envelope is DRAFT.
func (s *Service) RemoveSigner(ctx context.Context, envelopeID, signerID, actor string) error {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}
	if !env.IsMutable() {
		return ErrInvalidState
	}
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil || signer.EnvelopeID != envelopeID {
		return ErrSignerNotFound
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Signatures().DeleteBySigner(ctx, envelopeID, signerID); err != nil {
			return fmt.Errorf("removing signature record: %w", err)
		}
		if err := tx.Signers().Delete(ctx, signerID); err != nil {
			return fmt.Errorf("removing signer: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor, audit.SignerRemoved{SignerID: signerID})
	})
}

// Send transitions the envelope to PENDING and issues a magic link to every
// signer. Allowed from DRAFT (first send) and PENDING (re-send, links are
// reissued). Requires at least one document and one signer.
func (s *Service) Send(ctx context.Context, envelopeID, actor string) (*models.Envelope, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if !env.CanSend() {
		return nil, ErrInvalidState
	}

	docs, err := s.store.Documents().CountByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	if docs == 0 {
		return nil, &models.ValidationError{Field: "documents", Message: "envelope has no documents to sign"}
	}
	signers, err := s.store.Signers().ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("listing signers: %w", err)
	}
	if len(signers) == 0 {
		return nil, &models.ValidationError{Field: "signers", Message: "envelope has no signers"}
	}

	sentAt := s.now()
	env.SentAt = &sentAt
	env.Status = models.EnvelopeStatusPending
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Envelopes().Update(ctx, env); err != nil {
			return fmt.Errorf("updating envelope: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor, audit.EnvelopeSent{SignerCount: len(signers)})
	})
	if err != nil {
		return nil, err
	}

	// Link issuance and email dispatch are best effort per signer; a failed
	// delivery never rolls back the send.
	for _, signer := range signers {
		link, err := s.links.IssueLink(ctx, signer.ID)
		if err != nil {
			s.logger.Error("failed to issue signing link", "signer_id", signer.ID, "error", err)
			continue
		}
		msg := mail.SigningInvite(signer.Email, signer.Name, env.Name, link.URL)
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger.Error("failed to send signing invite", "signer_id", signer.ID, "error", err)
		}
	}
	return env, nil
}

// ResendInvite reissues a signer's magic link and sends a fresh invitation.
// Only permitted once the envelope has been sent and while neither the
// envelope nor the signer is terminal.
func (s *Service) ResendInvite(ctx context.Context, envelopeID, signerID, actor string) (*magiclink.Link, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.SentAt == nil || env.IsTerminal() {
		return nil, ErrInvalidState
	}
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil || signer.EnvelopeID != envelopeID {
		return nil, ErrSignerNotFound
	}
	if signer.IsTerminal() {
		return nil, ErrInvalidState
	}

	link, err := s.links.IssueLink(ctx, signerID)
	if err != nil {
		return nil, err
	}
	msg := mail.SigningInvite(signer.Email, signer.Name, env.Name, link.URL)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send signing invite", "signer_id", signerID, "error", err)
	}
	return link, nil
}

// Cancel moves a non-terminal envelope to CANCELLED.
func (s *Service) Cancel(ctx context.Context, envelopeID, actor, reason string) (*models.Envelope, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.IsTerminal() {
		return nil, ErrInvalidState
	}

	env.Status = models.EnvelopeStatusCancelled
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Envelopes().Update(ctx, env); err != nil {
			return fmt.Errorf("cancelling envelope: %w", err)
		}
		return s.recorder.Record(ctx, tx.Audit(), envelopeID, actor, audit.EnvelopeCancelled{Reason: reason})
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Get retrieves the full envelope aggregate: documents, signers, signatures
// and audit log.
func (s *Service) Get(ctx context.Context, envelopeID string) (*models.Envelope, error) {
	env, err := s.getEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.Documents, err = s.store.Documents().ListByEnvelope(ctx, envelopeID); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if env.Signers, err = s.store.Signers().ListByEnvelope(ctx, envelopeID); err != nil {
		return nil, fmt.Errorf("listing signers: %w", err)
	}
	if env.Signatures, err = s.store.Signatures().ListByEnvelope(ctx, envelopeID); err != nil {
		return nil, fmt.Errorf("listing signatures: %w", err)
	}
	if env.AuditLog, err = s.store.Audit().ListByEnvelope(ctx, envelopeID); err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return env, nil
}

// List retrieves the envelopes created by a user.
func (s *Service) List(ctx context.Context, createdBy string) ([]*models.Envelope, error) {
	return s.store.Envelopes().List(ctx, createdBy)
}

// Stats returns envelope counts grouped by status.
func (s *Service) Stats(ctx context.Context) (*models.EnvelopeStats, error) {
	return s.store.Envelopes().Stats(ctx)
}

// ExpireOverdue marks every non-terminal envelope past its expiry as
// EXPIRED, along with its pre-terminal signers. Expiry is otherwise
// evaluated lazily on access; this is an optional operational sweep.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.store.Envelopes().ListOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("listing overdue envelopes: %w", err)
	}
	expired := 0
	for _, env := range overdue {
		err := s.store.WithTx(ctx, func(tx store.Store) error {
			env.Status = models.EnvelopeStatusExpired
			if err := tx.Envelopes().Update(ctx, env); err != nil {
				return fmt.Errorf("expiring envelope: %w", err)
			}
			signers, err := tx.Signers().ListByEnvelope(ctx, env.ID)
			if err != nil {
				return fmt.Errorf("listing signers: %w", err)
			}
			for _, signer := range signers {
				if signer.IsTerminal() {
					continue
				}
				signer.Status = models.SignerStatusExpired
				if err := tx.Signers().Update(ctx, signer); err != nil {
					return fmt.Errorf("expiring signer: %w", err)
				}
			}
			return s.recorder.Record(ctx, tx.Audit(), env.ID, "", audit.EnvelopeExpired{})
		})
		if err != nil {
			s.logger.Error("failed to expire envelope", "envelope_id", env.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) getEnvelope(ctx context.Context, envelopeID string) (*models.Envelope, error) {
	env, err := s.store.Envelopes().Get(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("loading envelope: %w", err)
	}
	if env == nil {
		return nil, ErrEnvelopeNotFound
	}
	return env, nil
}
