package validation

import (
	"strings"

	"github.com/lenswork/studio-sign/internal/models"
)

// MaxDataURLLength caps signature payloads at 2MB of encoded data.
const MaxDataURLLength = 2 << 20

// ValidateSignatureDataURL performs a shape check on a submitted signature
// data URL. The stored hash covers whatever string the caller submits; this
// check only rejects obvious garbage, it does not authenticate the image.
func ValidateSignatureDataURL(dataURL string) error {
	if dataURL == "" {
		return &models.ValidationError{
			Field:   "signature_data_url",
			Message: "signature data is required",
		}
	}
	if !strings.HasPrefix(dataURL, "data:") {
		return &models.ValidationError{
			Field:   "signature_data_url",
			Message: "signature data must be a data URL",
		}
	}
	if len(dataURL) > MaxDataURLLength {
		return &models.ValidationError{
			Field:   "signature_data_url",
			Message: "signature data exceeds the 2MB limit",
		}
	}
	return nil
}
