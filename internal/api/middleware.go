/**
 * @description
 * This file contains the admin authentication middleware. Admin endpoints are
 * gated by a shared secret presented out-of-band: either the configured admin
 * key (X-Admin-Key header or Authorization bearer) or a short-lived admin
 * session JWT minted by the login endpoint. The plaintext key comparison is
 * constant-time; deployments can instead configure a bcrypt hash of the key.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Admin session tokens.
 * - golang.org/x/crypto/bcrypt: Hashed admin key comparison.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// adminContextKey is a custom type for the context key to avoid collisions.
type adminContextKey string

const isAdminKey adminContextKey = "isAdmin"

// AdminAuth validates admin credentials and mints admin session tokens.
type AdminAuth struct {
	key           string
	keyHash       string
	sessionSecret []byte
	sessionTTL    time.Duration
}

// NewAdminAuth creates an AdminAuth. keyHash, when non-empty, takes precedence
// over the plaintext key.
func NewAdminAuth(key, keyHash, sessionSecret string, sessionTTL time.Duration) *AdminAuth {
	return &AdminAuth{
		key:           strings.TrimSpace(key),
		keyHash:       strings.TrimSpace(keyHash),
		sessionSecret: []byte(sessionSecret),
		sessionTTL:    sessionTTL,
	}
}

// credential extracts the presented admin credential from the request.
func credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Admin-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(auth)
}

// MatchesKey reports whether the presented credential is the admin key itself.
func (a *AdminAuth) MatchesKey(cred string) bool {
	if cred == "" {
		return false
	}
	if a.keyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(cred)) == nil
	}
	if a.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.key), []byte(cred)) == 1
}

// Authenticate reports whether the request carries a valid admin credential:
// the admin key or an unexpired admin session token.
func (a *AdminAuth) Authenticate(r *http.Request) bool {
	cred := credential(r)
	if cred == "" {
		return false
	}
	if a.MatchesKey(cred) {
		return true
	}
	return a.validSessionToken(cred)
}

// IssueSessionToken mints a short-lived HS256 admin session token.
func (a *AdminAuth) IssueSessionToken(now time.Time) (string, error) {
	if len(a.sessionSecret) == 0 {
		return "", fmt.Errorf("admin session secret is not configured")
	}
	claims := jwt.MapClaims{
		"scope": "admin",
		"iat":   now.Unix(),
		"exp":   now.Add(a.sessionTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.sessionSecret)
}

// SessionTTL returns the configured admin session lifetime.
func (a *AdminAuth) SessionTTL() time.Duration {
	return a.sessionTTL
}

func (a *AdminAuth) validSessionToken(cred string) bool {
	if len(a.sessionSecret) == 0 {
		return false
	}
	tok, err := jwt.Parse(cred, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.sessionSecret, nil
	})
	if err != nil || !tok.Valid {
		return false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	scope, _ := claims["scope"].(string)
	return scope == "admin"
}

// DetectAdmin records on the request context whether the caller presented a
// valid admin credential, without rejecting anyone. Used by endpoints that
// serve both audiences with different projections.
func DetectAdmin(auth *AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), isAdminKey, auth.Authenticate(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests without a valid admin credential.
func RequireAdmin(auth *AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Authenticate(r) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), isAdminKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsAdmin retrieves the admin flag set by DetectAdmin or RequireAdmin.
func IsAdmin(ctx context.Context) bool {
	flag, _ := ctx.Value(isAdminKey).(bool)
	return flag
}
