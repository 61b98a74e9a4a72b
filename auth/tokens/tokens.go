// Package tokens implements the Validator/Generator capability pair from
// spec.md §4.1: opaque bearer credentials, backed by PASETO v4 (symmetric
// "local" or asymmetric "public") or JWT, selected by configuration.
// Grounded on the teacher's infrastructure/serviceauth (JWT claim/signing
// idiom) generalized from RS256 service tokens to end-user session tokens,
// and on spec.md's token-format-agnostic Claims/ValidationError contract.
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/acton-service/acton-service/config"
)

// Claims is the plain record carried by every token, independent of wire
// format. Deserialised from tokens and inserted into per-request context.
type Claims struct {
	Subject     string
	Email       string
	Username    string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
	IssuedAt    time.Time
	JTI         string
	Issuer      string
	Audience    string
}

// ErrorKind distinguishes why validation failed.
type ErrorKind string

const (
	ErrMalformed       ErrorKind = "malformed"
	ErrSignatureInvalid ErrorKind = "signature_invalid"
	ErrExpired         ErrorKind = "expired"
	ErrNotYetValid     ErrorKind = "not_yet_valid"
	ErrWrongIssuer     ErrorKind = "wrong_issuer"
	ErrWrongAudience   ErrorKind = "wrong_audience"
)

// ValidationError reports why a token failed to validate.
type ValidationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationErr(kind ErrorKind, err error) *ValidationError {
	return &ValidationError{Kind: kind, Err: err}
}

// Validator validates an opaque token string into Claims.
type Validator interface {
	Validate(tokenString string) (Claims, error)
}

// Generator produces an opaque token string from Claims.
type Generator interface {
	GenerateToken(claims Claims) (string, error)
	GenerateTokenWithExpiry(claims Claims, ttl time.Duration) (string, error)
}

// applyGenerationDefaults sets iat/exp/jti and issuer/audience overrides per
// spec.md §4.1's generator semantics, returning the claims to encode.
func applyGenerationDefaults(claims Claims, ttl time.Duration, issueJTI bool, cfgIssuer, cfgAudience string) Claims {
	now := time.Now().UTC()
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)

	if issueJTI && claims.JTI == "" {
		claims.JTI = newJTI()
	}
	if cfgIssuer != "" {
		claims.Issuer = cfgIssuer
	}
	if cfgAudience != "" {
		claims.Audience = cfgAudience
	}
	return claims
}

func newJTI() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// NewValidator constructs the configured Validator (PASETO or JWT) from
// cfg. format selects PASETO or JWT; for PASETO a non-empty Public.KeyPath
// selects the asymmetric validator and otherwise Local is loaded, while
// JWT always loads Public.
func NewValidator(cfg config.TokenConfig) (Validator, error) {
	switch cfg.Format {
	case "", "paseto":
		if cfg.Public.KeyPath != "" {
			return NewPasetoPublicValidator(cfg.Public)
		}
		return NewPasetoLocalValidator(cfg.Local)
	case "jwt":
		return NewJWTValidator(cfg.Public)
	default:
		return nil, errors.New("tokens: unknown format " + cfg.Format)
	}
}

// NewGenerator constructs the configured Generator from cfg.
func NewGenerator(cfg config.TokenConfig) (Generator, error) {
	switch cfg.Format {
	case "", "paseto":
		if cfg.Public.KeyPath != "" {
			return NewPasetoPublicGenerator(cfg.Public, cfg.IssueJTI)
		}
		return NewPasetoLocalGenerator(cfg.Local, cfg.IssueJTI)
	case "jwt":
		return NewJWTGenerator(cfg.Public, cfg.IssueJTI)
	default:
		return nil, errors.New("tokens: unknown format " + cfg.Format)
	}
}

func checkIssuerAudience(claims Claims, wantIssuer, wantAudience string) error {
	if wantIssuer != "" && claims.Issuer != wantIssuer {
		return newValidationErr(ErrWrongIssuer, nil)
	}
	if wantAudience != "" && claims.Audience != wantAudience {
		return newValidationErr(ErrWrongAudience, nil)
	}
	return nil
}

func checkTimes(claims Claims, now time.Time) error {
	if !claims.ExpiresAt.IsZero() && now.After(claims.ExpiresAt) {
		return newValidationErr(ErrExpired, nil)
	}
	if !claims.IssuedAt.IsZero() && now.Before(claims.IssuedAt) {
		return newValidationErr(ErrNotYetValid, nil)
	}
	return nil
}
