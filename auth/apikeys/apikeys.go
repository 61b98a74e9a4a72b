// Package apikeys implements API key generation, verification, and lookup
// prefixing from spec.md §4.3. Grounded on the teacher's crypto/bcrypt use
// elsewhere in infrastructure/security for password-hash-family secrets.
package apikeys

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const randomPartBytes = 24

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate produces a new API key for prefix: 24 random bytes, lowercase
// base32 (no padding), joined as "prefix_encoded". The plaintext is
// returned to the caller exactly once; hash is the only persisted form.
func Generate(prefix string) (plaintext, hash string, err error) {
	raw := make([]byte, randomPartBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	randomPart := strings.ToLower(base32Encoding.EncodeToString(raw))
	plaintext = prefix + "_" + randomPart

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plaintext, string(hashed), nil
}

// Verify reports whether plaintext matches hash, in constant time (bcrypt's
// comparison is constant-time with respect to password content).
func Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// LookupPrefix derives the storage lookup key for plaintext: split once
// from the right on "_" into (prefix, random_part), then
// "prefix_" + first 8 chars of random_part. Storage indexes on this value
// so validation costs one index hit plus one hash verification.
func LookupPrefix(plaintext string) (string, bool) {
	idx := strings.LastIndex(plaintext, "_")
	if idx == -1 || idx == len(plaintext)-1 {
		return "", false
	}
	prefix, randomPart := plaintext[:idx], plaintext[idx+1:]
	if len(randomPart) < 8 {
		return "", false
	}
	return prefix + "_" + randomPart[:8], true
}
