package audit

import (
	"strings"
	"testing"
)

const testSecret = "test-signing-secret"

var testPayload = map[string]string{
	"txHash":     "0xabc123",
	"payer":      "0xAAAA567890123456789012345678901234567890",
	"promptHash": "0xdeadbeef",
}

// ── Sign / Verify ────────────────────────────────────────────────────────────

func TestSignVerify_RoundTrip(t *testing.T) {
	sig, err := Sign(testPayload, testSecret)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig == "" {
		t.Fatal("empty signature")
	}
	if !Verify(testPayload, sig, testSecret) {
		t.Error("Verify returned false for a valid signature")
	}
}

func TestVerify_MutatedPayload(t *testing.T) {
	sig, err := Sign(testPayload, testSecret)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	mutated := map[string]string{}
	for k, v := range testPayload {
		mutated[k] = v
	}
	mutated["payer"] = "0xBBBB567890123456789012345678901234567890"

	if Verify(mutated, sig, testSecret) {
		t.Error("Verify accepted a signature over different content")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	sig, err := Sign(testPayload, testSecret)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if Verify(testPayload, sig, "other-secret") {
		t.Error("Verify accepted a signature made with a different secret")
	}
}

func TestVerify_LengthMismatch(t *testing.T) {
	sig, err := Sign(testPayload, testSecret)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if Verify(testPayload, sig[:len(sig)-2], testSecret) {
		t.Error("Verify accepted a truncated signature")
	}
}

func TestSign_ContentNotOrderDependent(t *testing.T) {
	a := map[string]string{"alpha": "1", "beta": "2", "gamma": "3"}
	b := map[string]string{"gamma": "3", "alpha": "1", "beta": "2"}

	sigA, err := Sign(a, testSecret)
	if err != nil {
		t.Fatalf("Sign a: %v", err)
	}
	sigB, err := Sign(b, testSecret)
	if err != nil {
		t.Fatalf("Sign b: %v", err)
	}
	if sigA != sigB {
		t.Errorf("signatures differ for identical logical content: %s vs %s", sigA, sigB)
	}
}

// ── HashContent ──────────────────────────────────────────────────────────────

func TestHashContent(t *testing.T) {
	h := HashContent("some prompt text")
	if !strings.HasPrefix(h, "0x") {
		t.Errorf("hash missing 0x prefix: %s", h)
	}
	if len(h) != 66 {
		t.Errorf("hash length: got %d want 66", len(h))
	}
	if h != HashContent("some prompt text") {
		t.Error("hash is not deterministic")
	}
	if h == HashContent("some other text") {
		t.Error("different inputs produced the same hash")
	}
}
