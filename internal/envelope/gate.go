package envelope

import (
	"github.com/lenswork/studio-sign/internal/models"
)

// GateDecision is the result of a signing-order check.
type GateDecision struct {
	Allowed bool
	// Reason is a short diagnostic for denials, safe to surface to callers.
	Reason string
}

// CanSign decides whether a signer may sign right now given the workflow
// mode, the envelope's signers and the status of each paired signature.
// Pure function: consultable for "can I act" queries and as the enforcement
// check immediately before accepting a signature.
func CanSign(workflow models.SigningWorkflow, signers []*models.Signer, signatures []*models.Signature, signerID string) GateDecision {
	var subject *models.Signer
	for _, s := range signers {
		if s.ID == signerID {
			subject = s
			break
		}
	}
	if subject == nil {
		return GateDecision{Reason: "signer is not part of this envelope"}
	}

	if workflow == models.WorkflowParallel {
		return GateDecision{Allowed: true}
	}

	if subject.SequenceNumber == nil {
		// Configuration error: sequential envelopes require a total order.
		return GateDecision{Reason: "signer has no sequence number in a sequential workflow"}
	}

	signedBy := make(map[string]bool, len(signatures))
	for _, sig := range signatures {
		if sig.Status == models.SignatureStatusSigned {
			signedBy[sig.SignerID] = true
		}
	}

	for _, s := range signers {
		if s.ID == subject.ID || s.SequenceNumber == nil {
			continue
		}
		if *s.SequenceNumber < *subject.SequenceNumber && !signedBy[s.ID] {
			return GateDecision{Reason: "a preceding signer has not signed yet"}
		}
	}
	return GateDecision{Allowed: true}
}
