package anamnesis

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const nonceBytes = 18

// Signer binds a link token to the practitioner that minted it, so forged or
// transplanted tokens are rejected before any storage lookup.
type Signer struct {
	key []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{key: []byte(secret)}
}

// Mint returns "<nonce>.<mac>".
func (s *Signer) Mint(accountID string) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	return nonce + "." + s.mac(accountID, nonce), nil
}

func (s *Signer) Verify(accountID, token string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.mac(accountID, nonce)))
}

func (s *Signer) mac(accountID, nonce string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(accountID + "|" + nonce))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:16])
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
