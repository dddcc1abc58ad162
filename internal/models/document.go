package models

import "time"

// Document represents an immutable file reference attached to an envelope.
// FileHash is computed once when the document is attached and never recomputed.
type Document struct {
	ID         string    `json:"id"`
	EnvelopeID string    `json:"envelope_id"`
	Name       string    `json:"name"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileHash   string    `json:"file_hash"`
	FileSize   int64     `json:"file_size"`
	CreatedAt  time.Time `json:"created_at"`
}
