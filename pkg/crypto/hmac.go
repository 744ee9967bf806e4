package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptySecret is returned when a Signer is created without a secret.
var ErrEmptySecret = errors.New("integrity secret must not be empty")

// Signer computes keyed integrity hashes. Without the secret a hash cannot be
// forged even if the hashed records are exfiltrated.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer for the given secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Signer{secret: s}, nil
}

// Sum returns hex(HMAC-SHA256(secret, payload)).
func (s *Signer) Sum(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SumFields canonicalizes fields and returns their keyed hash.
func (s *Signer) SumFields(fields map[string]any) (string, error) {
	payload, err := Canonical(fields)
	if err != nil {
		return "", err
	}
	return s.Sum(payload), nil
}

// Verify reports whether expected is the keyed hash of payload, in constant time.
func (s *Signer) Verify(payload []byte, expected string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

// Canonical serializes fields independently of insertion order.
// encoding/json writes map keys sorted, nested maps included.
func Canonical(fields map[string]any) ([]byte, error) {
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize fields: %w", err)
	}
	return out, nil
}
