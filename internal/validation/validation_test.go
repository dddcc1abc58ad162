package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/lenswork/studio-sign/internal/models"
)

func TestValidateEnvelopeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Wedding package agreement", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"at limit", strings.Repeat("x", MaxNameLength), false},
		{"over limit", strings.Repeat("x", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelopeName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvelopeName(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDescription(t *testing.T) {
	if err := ValidateDescription(""); err != nil {
		t.Errorf("empty description should be allowed: %v", err)
	}
	if err := ValidateDescription(strings.Repeat("x", MaxDescriptionLength+1)); err == nil {
		t.Error("oversized description should be rejected")
	}
}

func TestValidateWorkflow(t *testing.T) {
	if err := ValidateWorkflow(models.WorkflowSequential); err != nil {
		t.Errorf("SEQUENTIAL: %v", err)
	}
	if err := ValidateWorkflow(models.WorkflowParallel); err != nil {
		t.Errorf("PARALLEL: %v", err)
	}
	if err := ValidateWorkflow("ROUND_ROBIN"); err == nil {
		t.Error("unknown workflow should be rejected")
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{
		"client@example.com",
		"first.last@studio.example.co.uk",
		"tagged+shoot@example.com",
	}
	for _, email := range valid {
		if err := ValidateEmail(email); err != nil {
			t.Errorf("ValidateEmail(%q) = %v, want nil", email, err)
		}
	}

	invalid := []string{
		"",
		"no-at-sign",
		"two@@example.com",
		"spaces in@example.com",
		"missing-tld@example",
		"@example.com",
	}
	for _, email := range invalid {
		if err := ValidateEmail(email); err == nil {
			t.Errorf("ValidateEmail(%q) = nil, want error", email)
		}
	}
}

func TestValidateSignatureDataURL(t *testing.T) {
	if err := ValidateSignatureDataURL("data:image/png;base64,AAAA"); err != nil {
		t.Errorf("valid data URL: %v", err)
	}
	if err := ValidateSignatureDataURL(""); err == nil {
		t.Error("empty data URL should be rejected")
	}
	if err := ValidateSignatureDataURL("http://example.com/sig.png"); err == nil {
		t.Error("non-data URL should be rejected")
	}
	oversized := "data:image/png;base64," + strings.Repeat("A", MaxDataURLLength)
	if err := ValidateSignatureDataURL(oversized); err == nil {
		t.Error("oversized data URL should be rejected")
	}
}

func TestValidateNewSigner(t *testing.T) {
	one, two := 1, 2
	zero := 0
	existing := []*models.Signer{
		{Email: "taken@example.com", SequenceNumber: &one},
	}

	tests := []struct {
		name      string
		workflow  models.SigningWorkflow
		signer    string
		email     string
		seq       *int
		wantField string
	}{
		{"valid parallel", models.WorkflowParallel, "A", "new@example.com", nil, ""},
		{"valid sequential", models.WorkflowSequential, "A", "new@example.com", &two, ""},
		{"missing name", models.WorkflowParallel, "", "new@example.com", nil, "name"},
		{"bad email", models.WorkflowParallel, "A", "nope", nil, "email"},
		{"duplicate email", models.WorkflowParallel, "A", "taken@example.com", nil, "email"},
		{"duplicate email case-insensitive", models.WorkflowParallel, "A", "TAKEN@example.com", nil, "email"},
		{"sequential without sequence", models.WorkflowSequential, "A", "new@example.com", nil, "sequence_number"},
		{"sequence below one", models.WorkflowSequential, "A", "new@example.com", &zero, "sequence_number"},
		{"duplicate sequence", models.WorkflowSequential, "A", "new@example.com", &one, "sequence_number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNewSigner(tt.workflow, existing, tt.signer, tt.email, tt.seq)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var validationErr *models.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("field = %s, want %s", validationErr.Field, tt.wantField)
			}
		})
	}
}
