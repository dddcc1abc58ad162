package envelope

import "errors"

// Errors returned by the envelope service. The HTTP layer maps each to a
// distinct response code.
var (
	// ErrEnvelopeNotFound is returned when the referenced envelope does not exist.
	ErrEnvelopeNotFound = errors.New("envelope not found")
	// ErrDocumentNotFound is returned when the referenced document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrSignerNotFound is returned when the referenced signer does not exist.
	ErrSignerNotFound = errors.New("signer not found")
	// ErrSignatureNotFound is returned when the referenced signature does not exist.
	ErrSignatureNotFound = errors.New("signature not found")
	// ErrInvalidState is returned when the operation is not legal from the
	// envelope's or signer's current status.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrAlreadySigned is returned when a signature was already captured for
	// the signer.
	ErrAlreadySigned = errors.New("signer has already signed")
	// ErrWorkflowViolation is returned when the signing-order gate denies the
	// signer's turn.
	ErrWorkflowViolation = errors.New("signer is out of turn")
)
