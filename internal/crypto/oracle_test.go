package crypto

import "testing"

func TestNewHMACOracleRejectsEmptySecret(t *testing.T) {
	if _, err := NewHMACOracle("   "); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	oracle, err := NewHMACOracle("test-secret")
	if err != nil {
		t.Fatalf("NewHMACOracle: %v", err)
	}
	content := []byte("deliver-event-payload")

	sig, err := oracle.Sign(content)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !oracle.Verify(content, sig) {
		t.Fatalf("expected signature to verify")
	}
	if oracle.Verify([]byte("tampered"), sig) {
		t.Fatalf("expected tampered content to fail verification")
	}
}

func TestVerifyRejectsSignatureFromDifferentSecret(t *testing.T) {
	a, _ := NewHMACOracle("secret-a")
	b, _ := NewHMACOracle("secret-b")
	content := []byte("payload")

	sig, err := a.Sign(content)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if b.Verify(content, sig) {
		t.Fatalf("expected verification under a different secret to fail")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	oracle, _ := NewHMACOracle("secret")
	content := []byte("hash-me")
	if oracle.Hash(content) != oracle.Hash(content) {
		t.Fatalf("expected Hash to be deterministic")
	}
	if oracle.Hash(content) == oracle.Hash([]byte("hash-me-2")) {
		t.Fatalf("expected different content to hash differently")
	}
}
