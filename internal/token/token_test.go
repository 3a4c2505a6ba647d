package token

import (
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, ttl time.Duration) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret", ttl)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return s
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t, time.Hour)

	tok, err := s.Issue("ORD-1001", "5678", "deep-clean", "taipei")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	payload, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if payload.OrderID != "ORD-1001" {
		t.Fatalf("expected order_id ORD-1001, got %q", payload.OrderID)
	}
	if payload.PhoneLast4 != "5678" {
		t.Fatalf("expected phone_last4 5678, got %q", payload.PhoneLast4)
	}
	if payload.Service != "deep-clean" || payload.Area != "taipei" {
		t.Fatalf("service/area not preserved: %+v", payload)
	}
	if payload.ExpiresAt <= payload.IssuedAt {
		t.Fatalf("expected exp > iat, got iat=%d exp=%d", payload.IssuedAt, payload.ExpiresAt)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := newTestSigner(t, time.Minute)

	tok, err := s.Issue("ORD-1", "0000", "", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Move the clock past expiry.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := s.Verify(tok); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for expired token, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	s := newTestSigner(t, time.Hour)

	tok, err := s.Issue("ORD-2", "1234", "mattress", "taichung")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Flipping any single byte of the payload or signature component must
	// invalidate the token.
	for i := 0; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		mutated := []byte(tok)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if _, err := s.Verify(string(mutated)); err != ErrInvalid {
			t.Fatalf("expected ErrInvalid after mutating byte %d, got %v", i, err)
		}
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	s := newTestSigner(t, time.Hour)

	tests := []struct {
		name string
		tok  string
	}{
		{name: "empty", tok: ""},
		{name: "no separator", tok: "abcdef"},
		{name: "missing signature", tok: "abcdef."},
		{name: "missing payload", tok: ".abcdef"},
		{name: "extra separator", tok: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.tok); err != ErrInvalid {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	issuer := newTestSigner(t, time.Hour)
	verifier, err := NewSigner("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	tok, err := issuer.Issue("ORD-3", "9999", "", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := verifier.Verify(tok); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid under a different secret, got %v", err)
	}
}

func TestIssueValidatesInputs(t *testing.T) {
	s := newTestSigner(t, time.Hour)

	if _, err := s.Issue("", "1234", "", ""); err == nil {
		t.Fatal("expected error for empty order_id")
	}
	for _, last4 := range []string{"", "123", "12345", "12a4", "abcd"} {
		if _, err := s.Issue("ORD-4", last4, "", ""); err == nil {
			t.Fatalf("expected error for phone_last4=%q", last4)
		}
	}
}

func TestNewSignerValidatesConfig(t *testing.T) {
	if _, err := NewSigner(" ", time.Hour); err == nil {
		t.Fatal("expected error for blank secret")
	}
	if _, err := NewSigner("secret", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestTokenIsOpaqueTwoPartString(t *testing.T) {
	s := newTestSigner(t, time.Hour)

	tok, err := s.Issue("ORD-5", "4321", "sofa", "kaohsiung")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if strings.Count(tok, ".") != 1 {
		t.Fatalf("expected exactly one separator, got %q", tok)
	}
}
