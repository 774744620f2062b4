package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// pkcePair is a PKCE code verifier and its S256 challenge.
type pkcePair struct {
	Verifier  string
	Challenge string
}

// generatePKCE produces a fresh verifier/challenge pair. 32 random bytes
// encode to a 43-character verifier, the minimum length RFC 7636 allows.
func generatePKCE() (pkcePair, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return pkcePair{}, fmt.Errorf("generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	return pkcePair{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// generateState produces the CSRF state round-tripped through the
// authorization redirect: 32 random bytes, hex encoded.
func generateState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
