package envelope

import (
	"context"
	"errors"
	"fmt"

	"github.com/lenswork/studio-sign/internal/audit"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/mail"
	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
	"github.com/lenswork/studio-sign/internal/token"
	"github.com/lenswork/studio-sign/internal/validation"
)

// ResolveByToken resolves a magic-link token to its signer and the full
// envelope aggregate; the caller needs the documents and the signature
// states to answer "can I act". An expired link flips the signer to EXPIRED
// on the way out; it never grants access.
func (s *Service) ResolveByToken(ctx context.Context, tok string) (*models.Envelope, *models.Signer, error) {
	signer, err := s.links.ValidateLink(ctx, tok)
	if err != nil {
		if errors.Is(err, magiclink.ErrLinkExpired) {
			s.expireSignerByToken(ctx, tok)
		}
		return nil, nil, err
	}
	env, err := s.Get(ctx, signer.EnvelopeID)
	if err != nil {
		return nil, nil, err
	}
	if env.IsTerminal() {
		return nil, nil, ErrInvalidState
	}
	return env, signer, nil
}

// expireSignerByToken marks the signer behind an expired link as EXPIRED.
// Best effort; the access denial does not depend on it.
func (s *Service) expireSignerByToken(ctx context.Context, tok string) {
	signer, err := s.store.Signers().GetByToken(ctx, tok)
	if err != nil || signer == nil || signer.IsTerminal() {
		return
	}
	signer.Status = models.SignerStatusExpired
	if err := s.store.Signers().Update(ctx, signer); err != nil {
		s.logger.Error("failed to expire signer", "signer_id", signer.ID, "error", err)
	}
}

// RecordView marks a PENDING signer as VIEWED and promotes a PENDING
// envelope to IN_PROGRESS. A repeat view is a no-op.
func (s *Service) RecordView(ctx context.Context, signerID string) error {
	signer, err := s.store.Signers().Get(ctx, signerID)
	if err != nil {
		return fmt.Errorf("loading signer: %w", err)
	}
	if signer == nil {
		return ErrSignerNotFound
	}
	if signer.Status != models.SignerStatusPending {
		return nil
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		env, err := tx.Envelopes().GetForUpdate(ctx, signer.EnvelopeID)
		if err != nil {
			return fmt.Errorf("loading envelope: %w", err)
		}
		if env == nil {
			return ErrEnvelopeNotFound
		}
		if env.IsTerminal() {
			return ErrInvalidState
		}

		viewedAt := s.now()
		signer.Status = models.SignerStatusViewed
		signer.ViewedAt = &viewedAt
		if err := tx.Signers().Update(ctx, signer); err != nil {
			return fmt.Errorf("updating signer: %w", err)
		}
		if env.Status == models.EnvelopeStatusPending {
			env.Status = models.EnvelopeStatusInProgress
			if err := tx.Envelopes().Update(ctx, env); err != nil {
				return fmt.Errorf("updating envelope: %w", err)
			}
		}
		return s.recorder.Record(ctx, tx.Audit(), signer.EnvelopeID, signer.Email, audit.SignerViewed{SignerID: signerID})
	})
}

// CaptureInput holds a submitted signature.
type CaptureInput struct {
	SignerID         string
	SignatureDataURL string
	InitialsDataURL  string
	PageNumber       int
	PositionX        float64
	PositionY        float64
	SignerIP         string
	SignerUserAgent  string
}

// CaptureSignature records a signer's signature. The signing-order gate is
// enforced inside the same transaction that writes the signature, and the
// all-signed completion check runs against the post-write snapshot, so two
// racing captures cannot both miss the COMPLETED transition.
func (s *Service) CaptureSignature(ctx context.Context, in CaptureInput) (*models.Envelope, error) {
	if err := validation.ValidateSignatureDataURL(in.SignatureDataURL); err != nil {
		return nil, err
	}

	var result *models.Envelope
	completed := false
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		signer, err := tx.Signers().Get(ctx, in.SignerID)
		if err != nil {
			return fmt.Errorf("loading signer: %w", err)
		}
		if signer == nil {
			return ErrSignerNotFound
		}

		env, err := tx.Envelopes().GetForUpdate(ctx, signer.EnvelopeID)
		if err != nil {
			return fmt.Errorf("loading envelope: %w", err)
		}
		if env == nil {
			return ErrEnvelopeNotFound
		}
		if env.IsTerminal() {
			return ErrInvalidState
		}

		switch signer.Status {
		case models.SignerStatusSigned:
			return ErrAlreadySigned
		case models.SignerStatusDeclined, models.SignerStatusExpired:
			return ErrInvalidState
		}

		signers, err := tx.Signers().ListByEnvelope(ctx, env.ID)
		if err != nil {
			return fmt.Errorf("listing signers: %w", err)
		}
		signatures, err := tx.Signatures().ListByEnvelope(ctx, env.ID)
		if err != nil {
			return fmt.Errorf("listing signatures: %w", err)
		}
		if decision := CanSign(env.SigningWorkflow, signers, signatures, in.SignerID); !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrWorkflowViolation, decision.Reason)
		}

		sig, err := tx.Signatures().GetBySigner(ctx, env.ID, in.SignerID)
		if err != nil {
			return fmt.Errorf("loading signature: %w", err)
		}
		if sig == nil {
			return ErrSignatureNotFound
		}

		signedAt := s.now()
		sig.Status = models.SignatureStatusSigned
		sig.SignatureDataURL = in.SignatureDataURL
		sig.InitialsDataURL = in.InitialsDataURL
		sig.SignatureHash = token.Hash(in.SignatureDataURL)
		sig.PageNumber = in.PageNumber
		sig.PositionX = in.PositionX
		sig.PositionY = in.PositionY
		sig.SignedAt = &signedAt
		sig.SignerIP = in.SignerIP
		sig.SignerUserAgent = in.SignerUserAgent
		if err := tx.Signatures().Update(ctx, sig); err != nil {
			return fmt.Errorf("updating signature: %w", err)
		}

		signer.Status = models.SignerStatusSigned
		signer.SignedAt = &signedAt
		if err := tx.Signers().Update(ctx, signer); err != nil {
			return fmt.Errorf("updating signer: %w", err)
		}

		if err := s.recorder.Record(ctx, tx.Audit(), env.ID, signer.Email,
			audit.SignerSigned{SignerID: in.SignerID, SignatureHash: sig.SignatureHash, PageNumber: sig.PageNumber}); err != nil {
			return err
		}

		allSigned, err := tx.Signatures().AllSigned(ctx, env.ID)
		if err != nil {
			return fmt.Errorf("checking completion: %w", err)
		}
		if allSigned {
			env.Status = models.EnvelopeStatusCompleted
			env.CompletedAt = &signedAt
			completed = true
			if err := s.recorder.Record(ctx, tx.Audit(), env.ID, signer.Email, audit.EnvelopeCompleted{}); err != nil {
				return err
			}
		} else if env.Status == models.EnvelopeStatusPending {
			env.Status = models.EnvelopeStatusInProgress
		}
		if err := tx.Envelopes().Update(ctx, env); err != nil {
			return fmt.Errorf("updating envelope: %w", err)
		}
		result = env
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		s.notifyCompleted(ctx, result)
	}
	return result, nil
}

// notifyCompleted sends the completion notice to the envelope owner.
// Best effort.
func (s *Service) notifyCompleted(ctx context.Context, env *models.Envelope) {
	owner, err := s.store.AdminUsers().GetByID(ctx, env.CreatedBy)
	if err != nil || owner == nil {
		return
	}
	if err := s.mailer.Send(ctx, mail.EnvelopeCompleted(owner.Email, env.Name)); err != nil {
		s.logger.Error("failed to send completion notice", "envelope_id", env.ID, "error", err)
	}
}

// DeclineSignature records a signer's refusal and cancels the entire
// envelope. A single decline cancels the whole envelope; there is no
// partial-cancel semantics.
func (s *Service) DeclineSignature(ctx context.Context, signerID, reason string) (*models.Envelope, error) {
	var result *models.Envelope
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		signer, err := tx.Signers().Get(ctx, signerID)
		if err != nil {
			return fmt.Errorf("loading signer: %w", err)
		}
		if signer == nil {
			return ErrSignerNotFound
		}
		if signer.IsTerminal() {
			return ErrInvalidState
		}

		env, err := tx.Envelopes().GetForUpdate(ctx, signer.EnvelopeID)
		if err != nil {
			return fmt.Errorf("loading envelope: %w", err)
		}
		if env == nil {
			return ErrEnvelopeNotFound
		}
		if env.IsTerminal() {
			return ErrInvalidState
		}

		declinedAt := s.now()
		signer.Status = models.SignerStatusDeclined
		signer.DeclinedAt = &declinedAt
		signer.DeclinedReason = reason
		if err := tx.Signers().Update(ctx, signer); err != nil {
			return fmt.Errorf("updating signer: %w", err)
		}

		sig, err := tx.Signatures().GetBySigner(ctx, env.ID, signerID)
		if err != nil {
			return fmt.Errorf("loading signature: %w", err)
		}
		if sig != nil {
			sig.Status = models.SignatureStatusDeclined
			if err := tx.Signatures().Update(ctx, sig); err != nil {
				return fmt.Errorf("updating signature: %w", err)
			}
		}

		env.Status = models.EnvelopeStatusCancelled
		if err := tx.Envelopes().Update(ctx, env); err != nil {
			return fmt.Errorf("updating envelope: %w", err)
		}

		if err := s.recorder.Record(ctx, tx.Audit(), env.ID, signer.Email,
			audit.SignerDeclined{SignerID: signerID, Reason: reason}); err != nil {
			return err
		}
		if err := s.recorder.Record(ctx, tx.Audit(), env.ID, signer.Email,
			audit.EnvelopeCancelled{Reason: "declined by " + signer.Email}); err != nil {
			return err
		}
		result = env
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifySignatureIntegrity recomputes the digest of the stored signature
// data URL and compares it to the stored hash. Returns false when either is
// missing. Detection only; it gates nothing.
func (s *Service) VerifySignatureIntegrity(ctx context.Context, signatureID string) (bool, error) {
	sig, err := s.store.Signatures().Get(ctx, signatureID)
	if err != nil {
		return false, fmt.Errorf("loading signature: %w", err)
	}
	if sig == nil {
		return false, ErrSignatureNotFound
	}
	if sig.SignatureDataURL == "" || sig.SignatureHash == "" {
		return false, nil
	}
	return token.SecureCompare(token.Hash(sig.SignatureDataURL), sig.SignatureHash), nil
}
