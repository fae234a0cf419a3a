package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Sign computes an HMAC-SHA256 signature over the canonical form of payload
// and returns it hex-encoded. Canonicalization relies on encoding/json
// emitting map keys in sorted order, so the signature depends only on the
// logical content, not on insertion order.
func Sign(payload map[string]string, secret string) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the payload signature and compares in constant time.
// A length mismatch is an immediate false; equal-length strings are compared
// by XOR accumulation so the comparison never short-circuits.
func Verify(payload map[string]string, signature, secret string) bool {
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return constantTimeEqual(expected, signature)
}

// HashContent returns the 0x-prefixed keccak-256 fingerprint of text.
// Not secret-keyed; used to correlate prompts with audit records.
func HashContent(text string) string {
	return crypto.Keccak256Hash([]byte(text)).Hex()
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
