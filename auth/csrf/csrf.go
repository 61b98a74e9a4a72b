// Package csrf implements double-submit CSRF token generation and
// constant-time verification, the supplemented counterpart to
// _examples/original_source/acton-service/src/session/csrf.rs's CsrfToken
// and CsrfLayer, adapted from session-stored tokens (the original keeps the
// token server-side in tower_sessions) to this repo's cookie/header
// double-submit variant since acton-service carries no session store of
// its own.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

const tokenBytes = 32

// GenerateToken returns a new random, URL-safe CSRF token.
func GenerateToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify reports whether cookieValue and headerValue match in constant time
// and are both non-empty. The double-submit pattern treats equality between
// an unguessable cookie value and a client-echoed header as proof the
// client read same-origin state, since cross-origin requests cannot read
// cookies they didn't set.
func Verify(cookieValue, headerValue string) bool {
	if cookieValue == "" || headerValue == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) == 1
}
