// Package validation provides input validation for envelope operations.
package validation

import (
	"regexp"
	"strings"

	"github.com/lenswork/studio-sign/internal/models"
)

// MaxNameLength is the maximum allowed length for an envelope name.
const MaxNameLength = 200

// MaxDescriptionLength is the maximum allowed length for an envelope description.
const MaxDescriptionLength = 2000

// emailRegex is a pragmatic address shape check; deliverability is the
// mailer's problem.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEnvelopeName validates an envelope name.
func ValidateEnvelopeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &models.ValidationError{
			Field:   "name",
			Message: "envelope name is required",
		}
	}
	if len(name) > MaxNameLength {
		return &models.ValidationError{
			Field:   "name",
			Message: "envelope name must be 200 characters or less",
		}
	}
	return nil
}

// ValidateDescription validates an envelope description.
func ValidateDescription(description string) error {
	if len(description) > MaxDescriptionLength {
		return &models.ValidationError{
			Field:   "description",
			Message: "description must be 2000 characters or less",
		}
	}
	return nil
}

// ValidateWorkflow validates the signing workflow mode.
func ValidateWorkflow(workflow models.SigningWorkflow) error {
	switch workflow {
	case models.WorkflowSequential, models.WorkflowParallel:
		return nil
	}
	return &models.ValidationError{
		Field:   "signing_workflow",
		Message: "signing workflow must be SEQUENTIAL or PARALLEL",
	}
}

// ValidateEmail validates a signer email address.
func ValidateEmail(email string) error {
	if email == "" {
		return &models.ValidationError{
			Field:   "email",
			Message: "email is required",
		}
	}
	if !emailRegex.MatchString(email) {
		return &models.ValidationError{
			Field:   "email",
			Message: "email is not a valid address",
		}
	}
	return nil
}
