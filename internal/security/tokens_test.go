package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"proof-of-life-gate/internal/token"
)

func testPayload() token.Payload {
	return token.Payload{
		AttemptID:  "attempt-1",
		Color:      "blue",
		Emotion:    "happy",
		Label:      "REAL",
		Confidence: 0.92,
		Narrative:  "Verified at dawn.",
		IssuedAt:   time.Now().Add(-time.Minute),
	}
}

func TestProofTokenProvider_MintAndValidate(t *testing.T) {
	p, err := NewTestProofTokenProvider()
	if err != nil {
		t.Fatalf("NewTestProofTokenProvider: %v", err)
	}
	tok, err := p.Mint(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("token %q is not a compact JWS", tok)
	}

	claims, err := p.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "attempt-1" || claims.Color != "blue" || claims.Emotion != "happy" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Label != "REAL" || claims.Confidence != 0.92 {
		t.Errorf("label/confidence = %s/%v", claims.Label, claims.Confidence)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
	if claims.ExpiresAt == nil {
		t.Error("exp should be set when ttl > 0")
	}
}

func TestProofTokenProvider_UniqueTokens(t *testing.T) {
	p, err := NewTestProofTokenProvider()
	if err != nil {
		t.Fatalf("NewTestProofTokenProvider: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		tok, err := p.Mint(context.Background(), testPayload())
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token on mint %d", i)
		}
		seen[tok] = true
	}
}

func TestProofTokenProvider_ValidateRejects(t *testing.T) {
	p, err := NewTestProofTokenProvider()
	if err != nil {
		t.Fatalf("NewTestProofTokenProvider: %v", err)
	}
	tok, err := p.Mint(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := p.Validate("invalid-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v, want ErrInvalidToken", err)
	}
	if _, err := p.Validate(tok[:len(tok)-4] + "AAAA"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered signature: err = %v, want ErrInvalidToken", err)
	}

	other := NewProofTokenProvider(p.privateKey, p.publicKey, "someone-else", "test-audience", time.Hour)
	if _, err := other.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: err = %v, want ErrInvalidToken", err)
	}
	other = NewProofTokenProvider(p.privateKey, p.publicKey, "test-issuer", "kiosk-b", time.Hour)
	if _, err := other.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong audience: err = %v, want ErrInvalidToken", err)
	}

	later := NewProofTokenProvider(p.privateKey, p.publicKey, "test-issuer", "test-audience", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v, want ErrInvalidToken", err)
	}
}

func TestProofTokenProvider_NoKey(t *testing.T) {
	p := NewProofTokenProvider(nil, nil, "i", "a", 0)
	if _, err := p.Mint(context.Background(), testPayload()); !errors.Is(err, token.ErrIssuerUnavailable) {
		t.Errorf("err = %v, want ErrIssuerUnavailable", err)
	}
}

func TestProofTokenProvider_CancelledContext(t *testing.T) {
	p, err := NewTestProofTokenProvider()
	if err != nil {
		t.Fatalf("NewTestProofTokenProvider: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Mint(ctx, testPayload()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestProofTokenProvider_NoTTL(t *testing.T) {
	signer, pub, err := LoadKeyPair(testPrivateKeyPEM, "")
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	p := NewProofTokenProvider(signer, pub, "i", "a", 0)
	tok, err := p.Mint(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, err := p.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("exp = %v, want none", claims.ExpiresAt)
	}
}

func TestHashProofToken(t *testing.T) {
	h := HashProofToken("0xabc")
	if len(h) != 64 || h != HashProofToken("0xabc") {
		t.Errorf("HashProofToken = %q", h)
	}
	if HashProofToken("0xabd") == h {
		t.Error("different tokens must hash differently")
	}
	if HashProofToken("") != "" {
		t.Error("empty token hashes to empty")
	}
	if !ProofTokenMatches("0xabc", h) || ProofTokenMatches("0xabd", h) || ProofTokenMatches("", "") {
		t.Error("ProofTokenMatches mismatch")
	}
}
