package validation

import (
	"strings"

	"github.com/lenswork/studio-sign/internal/models"
)

// ValidateNewSigner validates a signer against the envelope's workflow and
// its existing signers: email must be unique within the envelope, and a
// sequential workflow requires a sequence number that is unique among the
// envelope's signers. The gate assumes a total order, so collisions are
// rejected here at add time.
func ValidateNewSigner(workflow models.SigningWorkflow, existing []*models.Signer, name, email string, sequenceNumber *int) error {
	if strings.TrimSpace(name) == "" {
		return &models.ValidationError{
			Field:   "name",
			Message: "signer name is required",
		}
	}
	if err := ValidateEmail(email); err != nil {
		return err
	}
	for _, s := range existing {
		if strings.EqualFold(s.Email, email) {
			return &models.ValidationError{
				Field:   "email",
				Message: "a signer with this email already exists on the envelope",
			}
		}
	}

	if workflow == models.WorkflowSequential {
		if sequenceNumber == nil {
			return &models.ValidationError{
				Field:   "sequence_number",
				Message: "sequence number is required for sequential workflows",
			}
		}
		if *sequenceNumber < 1 {
			return &models.ValidationError{
				Field:   "sequence_number",
				Message: "sequence number must be positive",
			}
		}
		for _, s := range existing {
			if s.SequenceNumber != nil && *s.SequenceNumber == *sequenceNumber {
				return &models.ValidationError{
					Field:   "sequence_number",
					Message: "sequence number is already taken on this envelope",
				}
			}
		}
	}
	return nil
}
