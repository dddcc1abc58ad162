// Package token provides secure random credential generation and hashing
// for magic links, one-time codes and signing sessions.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// OTPLength is the number of digits in a one-time code.
const OTPLength = 6

// tokenBytes gives 256 bits of entropy per token, hex encoded.
const tokenBytes = 32

// Source generates credentials. Production uses CryptoSource; tests may
// inject fixed sequences without weakening production entropy.
type Source interface {
	// Token returns a new unguessable token, hex encoded.
	Token() (string, error)
	// OTP returns a new code of exactly OTPLength ASCII digits.
	OTP() (string, error)
}

// CryptoSource generates credentials from crypto/rand.
type CryptoSource struct{}

// NewCryptoSource creates the production credential source.
func NewCryptoSource() *CryptoSource {
	return &CryptoSource{}
}

// Token returns a hex-encoded token with 256 bits of entropy.
func (*CryptoSource) Token() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// OTP returns a 6-digit numeric code. Rejection sampling keeps the digit
// distribution uniform.
func (*CryptoSource) OTP() (string, error) {
	// Largest multiple of 10^6 below 2^32.
	const bound = 1_000_000
	const limit = (1 << 32) / bound * bound

	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("generating random bytes: %w", err)
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < limit {
			return fmt.Sprintf("%06d", v%bound), nil
		}
	}
}

// Hash returns the hex-encoded SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SecureCompare performs a constant-time comparison of two strings.
// This helps prevent timing attacks.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
