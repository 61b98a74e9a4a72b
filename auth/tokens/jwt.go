package tokens

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/acton-service/acton-service/config"
)

type jwtClaims struct {
	Roles []string `json:"roles,omitempty"`
	Perms []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates EdDSA-signed JWTs.
type JWTValidator struct {
	publicKey ed25519.PublicKey
	issuer    string
	aud       string
}

// NewJWTValidator loads a 32-byte Ed25519 public key from cfg.KeyPath.
func NewJWTValidator(cfg config.TokenKeyConfig) (*JWTValidator, error) {
	key, err := readExactly(cfg.KeyPath, ed25519PublicKeySize, "Ed25519 public")
	if err != nil {
		return nil, err
	}
	return &JWTValidator{publicKey: ed25519.PublicKey(key), issuer: cfg.Issuer, aud: cfg.Audience}, nil
}

func (v *JWTValidator) Validate(tokenString string) (Claims, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, newValidationErr(ErrMalformed, nil)
		}
		return v.publicKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, newValidationErr(ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return Claims{}, newValidationErr(ErrNotYetValid, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, newValidationErr(ErrSignatureInvalid, err)
		default:
			return Claims{}, newValidationErr(ErrMalformed, err)
		}
	}
	if !token.Valid {
		return Claims{}, newValidationErr(ErrSignatureInvalid, nil)
	}

	out := jwtClaimsToClaims(claims)
	if err := checkIssuerAudience(out, v.issuer, v.aud); err != nil {
		return Claims{}, err
	}
	return out, nil
}

func jwtClaimsToClaims(c *jwtClaims) Claims {
	out := Claims{Roles: c.Roles, Permissions: c.Perms}
	out.Subject = c.Subject
	if len(c.Audience) > 0 {
		out.Audience = c.Audience[0]
	}
	out.Issuer = c.Issuer
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	out.JTI = c.ID
	return out
}

// JWTGenerator issues EdDSA-signed JWTs.
type JWTGenerator struct {
	privateKey ed25519.PrivateKey
	issuer     string
	aud        string
	issueJTI   bool
}

// NewJWTGenerator loads a 64-byte Ed25519 private key from cfg.KeyPath.
func NewJWTGenerator(cfg config.TokenKeyConfig, issueJTI bool) (*JWTGenerator, error) {
	key, err := readExactly(cfg.KeyPath, ed25519PrivateKeySize, "Ed25519 private")
	if err != nil {
		return nil, err
	}
	return &JWTGenerator{privateKey: ed25519.PrivateKey(key), issuer: cfg.Issuer, aud: cfg.Audience, issueJTI: issueJTI}, nil
}

func (g *JWTGenerator) GenerateToken(claims Claims) (string, error) {
	return g.GenerateTokenWithExpiry(claims, 15*time.Minute)
}

func (g *JWTGenerator) GenerateTokenWithExpiry(claims Claims, ttl time.Duration) (string, error) {
	claims = applyGenerationDefaults(claims, ttl, g.issueJTI, g.issuer, g.aud)

	registered := jwt.RegisteredClaims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		ID:        claims.JTI,
	}
	if claims.Issuer != "" {
		registered.Issuer = claims.Issuer
	}
	if claims.Audience != "" {
		registered.Audience = jwt.ClaimStrings{claims.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, &jwtClaims{
		Roles:             omitEmpty(claims.Roles),
		Perms:             omitEmpty(claims.Permissions),
		RegisteredClaims:  registered,
	})
	return token.SignedString(g.privateKey)
}

func omitEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
