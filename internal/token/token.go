/**
 * @description
 * This package implements the signed submission token: a compact,
 * tamper-evident bearer string that authorizes one customer to submit a review
 * tied to a specific order. The token is a pure function of a process-wide
 * shared secret, so no database lookup is needed to verify a submission link.
 *
 * Format: base64url(JSON payload) + "." + base64url(HMAC-SHA256(payload)).
 * Timestamps are unix milliseconds. Signature comparison is constant-time so
 * incremental forgery guessing gains nothing from timing.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, encoding/json: Standard Go libraries.
 */

package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid covers every verification failure: malformed token, bad
// signature, undecodable payload, or expiry. Callers must not learn which.
var ErrInvalid = errors.New("invalid token")

// Payload is the claim set carried by a submission token.
type Payload struct {
	OrderID    string `json:"order_id"`
	PhoneLast4 string `json:"phone_last4"`
	Service    string `json:"service"`
	Area       string `json:"area"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

// Signer issues and verifies submission tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSigner creates a Signer. ttl must be positive.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue builds a signed token binding a submission to an order identifier and
// the last four digits of the customer's phone number.
func (s *Signer) Issue(orderID, phoneLast4, service, area string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", errors.New("order_id is required")
	}
	if !validPhoneLast4(phoneLast4) {
		return "", errors.New("phone_last4 must be exactly 4 digits")
	}

	now := s.now()
	payload := Payload{
		OrderID:    orderID,
		PhoneLast4: phoneLast4,
		Service:    service,
		Area:       area,
		IssuedAt:   now.UnixMilli(),
		ExpiresAt:  now.Add(s.ttl).UnixMilli(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + s.sign(encoded), nil
}

// Verify splits the token into its payload and signature components,
// recomputes the signature, and checks expiry. It returns the decoded payload
// on success and ErrInvalid on any failure.
func (s *Signer) Verify(tok string) (*Payload, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalid
	}

	expected := s.sign(parts[0])
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return nil, ErrInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalid
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalid
	}
	if payload.ExpiresAt <= payload.IssuedAt {
		return nil, ErrInvalid
	}
	if s.now().UnixMilli() >= payload.ExpiresAt {
		return nil, ErrInvalid
	}

	return &payload, nil
}

// sign computes the base64url-encoded HMAC-SHA256 of the encoded payload.
func (s *Signer) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func validPhoneLast4(v string) bool {
	if len(v) != 4 {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
