package tokens

import (
	"fmt"
	"os"
	"time"

	"aidantwoods.dev/go-paseto"

	"github.com/acton-service/acton-service/config"
)

const (
	symmetricKeySize      = 32
	ed25519PrivateKeySize = 64
	ed25519PublicKeySize  = 32

	// payloadClaimKey is the custom PASETO claim under which the whole
	// Claims payload rides as a single nested JSON object.
	payloadClaimKey = "payload"
)

// pasetoPayload is the JSON body carried under payloadClaimKey; field names
// are kept short since they ride inside every token.
type pasetoPayload struct {
	Sub   string    `json:"sub"`
	Email string    `json:"email,omitempty"`
	User  string    `json:"username,omitempty"`
	Roles []string  `json:"roles,omitempty"`
	Perms []string  `json:"perms,omitempty"`
	Exp   time.Time `json:"exp"`
	Iat   time.Time `json:"iat"`
	JTI   string    `json:"jti,omitempty"`
	Iss   string    `json:"iss,omitempty"`
	Aud   string    `json:"aud,omitempty"`
}

func toPayload(c Claims) pasetoPayload {
	return pasetoPayload{
		Sub: c.Subject, Email: c.Email, User: c.Username,
		Roles: c.Roles, Perms: c.Permissions,
		Exp: c.ExpiresAt, Iat: c.IssuedAt, JTI: c.JTI, Iss: c.Issuer, Aud: c.Audience,
	}
}

func fromPayload(p pasetoPayload) Claims {
	return Claims{
		Subject: p.Sub, Email: p.Email, Username: p.User,
		Roles: p.Roles, Permissions: p.Perms,
		ExpiresAt: p.Exp, IssuedAt: p.Iat, JTI: p.JTI, Issuer: p.Iss, Audience: p.Aud,
	}
}

func readExactly(path string, size int, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokens: read %s key %s: %w", what, path, err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("tokens: %s key at %s must be exactly %d bytes, got %d", what, path, size, len(data))
	}
	return data, nil
}

// newToken builds a token carrying payload under payloadClaimKey. Wire-time
// expiry/not-before are intentionally left unset on the PASETO envelope
// itself: checkTimes enforces them against Claims after parsing so both the
// local and public validators share one classification path (ErrExpired vs
// ErrNotYetValid) instead of the library's own opaque parse error.
func newToken(payload pasetoPayload) (paseto.Token, error) {
	token := paseto.NewToken()
	if err := token.Set(payloadClaimKey, payload); err != nil {
		return paseto.Token{}, fmt.Errorf("tokens: encode payload: %w", err)
	}
	return token, nil
}

func payloadFromToken(token *paseto.Token) (pasetoPayload, error) {
	var payload pasetoPayload
	if err := token.Get(payloadClaimKey, &payload); err != nil {
		return pasetoPayload{}, err
	}
	return payload, nil
}

// PasetoLocalValidator validates PASETO v4.local (XChaCha20-Poly1305
// symmetric-encrypted) tokens.
type PasetoLocalValidator struct {
	key    paseto.V4SymmetricKey
	issuer string
	aud    string
}

// NewPasetoLocalValidator loads a 32-byte symmetric key from cfg.KeyPath.
func NewPasetoLocalValidator(cfg config.TokenKeyConfig) (*PasetoLocalValidator, error) {
	raw, err := readExactly(cfg.KeyPath, symmetricKeySize, "symmetric")
	if err != nil {
		return nil, err
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tokens: load symmetric key: %w", err)
	}
	return &PasetoLocalValidator{key: key, issuer: cfg.Issuer, aud: cfg.Audience}, nil
}

func (v *PasetoLocalValidator) Validate(tokenString string) (Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	token, err := parser.ParseV4Local(v.key, tokenString, nil)
	if err != nil {
		return Claims{}, newValidationErr(ErrSignatureInvalid, err)
	}

	payload, err := payloadFromToken(token)
	if err != nil {
		return Claims{}, newValidationErr(ErrMalformed, err)
	}

	claims := fromPayload(payload)
	if err := checkTimes(claims, time.Now().UTC()); err != nil {
		return Claims{}, err
	}
	if err := checkIssuerAudience(claims, v.issuer, v.aud); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// PasetoLocalGenerator issues PASETO v4.local tokens.
type PasetoLocalGenerator struct {
	key      paseto.V4SymmetricKey
	issuer   string
	aud      string
	issueJTI bool
}

// NewPasetoLocalGenerator loads a 32-byte symmetric key from cfg.KeyPath.
func NewPasetoLocalGenerator(cfg config.TokenKeyConfig, issueJTI bool) (*PasetoLocalGenerator, error) {
	raw, err := readExactly(cfg.KeyPath, symmetricKeySize, "symmetric")
	if err != nil {
		return nil, err
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tokens: load symmetric key: %w", err)
	}
	return &PasetoLocalGenerator{key: key, issuer: cfg.Issuer, aud: cfg.Audience, issueJTI: issueJTI}, nil
}

func (g *PasetoLocalGenerator) GenerateToken(claims Claims) (string, error) {
	return g.GenerateTokenWithExpiry(claims, 15*time.Minute)
}

func (g *PasetoLocalGenerator) GenerateTokenWithExpiry(claims Claims, ttl time.Duration) (string, error) {
	claims = applyGenerationDefaults(claims, ttl, g.issueJTI, g.issuer, g.aud)
	token, err := newToken(toPayload(claims))
	if err != nil {
		return "", err
	}
	return token.V4Encrypt(g.key, nil), nil
}

// PasetoPublicValidator validates PASETO v4.public (Ed25519-signed) tokens.
type PasetoPublicValidator struct {
	publicKey paseto.V4AsymmetricPublicKey
	issuer    string
	aud       string
}

// NewPasetoPublicValidator loads a 32-byte Ed25519 public key from
// cfg.KeyPath.
func NewPasetoPublicValidator(cfg config.TokenKeyConfig) (*PasetoPublicValidator, error) {
	raw, err := readExactly(cfg.KeyPath, ed25519PublicKeySize, "Ed25519 public")
	if err != nil {
		return nil, err
	}
	key, err := paseto.NewV4AsymmetricPublicKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tokens: load Ed25519 public key: %w", err)
	}
	return &PasetoPublicValidator{publicKey: key, issuer: cfg.Issuer, aud: cfg.Audience}, nil
}

func (v *PasetoPublicValidator) Validate(tokenString string) (Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	token, err := parser.ParseV4Public(v.publicKey, tokenString, nil)
	if err != nil {
		return Claims{}, newValidationErr(ErrSignatureInvalid, err)
	}

	payload, err := payloadFromToken(token)
	if err != nil {
		return Claims{}, newValidationErr(ErrMalformed, err)
	}

	claims := fromPayload(payload)
	if err := checkTimes(claims, time.Now().UTC()); err != nil {
		return Claims{}, err
	}
	if err := checkIssuerAudience(claims, v.issuer, v.aud); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// PasetoPublicGenerator issues PASETO v4.public tokens.
type PasetoPublicGenerator struct {
	privateKey paseto.V4AsymmetricSecretKey
	issuer     string
	aud        string
	issueJTI   bool
}

// NewPasetoPublicGenerator loads a 64-byte Ed25519 private key from
// cfg.KeyPath.
func NewPasetoPublicGenerator(cfg config.TokenKeyConfig, issueJTI bool) (*PasetoPublicGenerator, error) {
	raw, err := readExactly(cfg.KeyPath, ed25519PrivateKeySize, "Ed25519 private")
	if err != nil {
		return nil, err
	}
	key, err := paseto.NewV4AsymmetricSecretKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tokens: load Ed25519 private key: %w", err)
	}
	return &PasetoPublicGenerator{privateKey: key, issuer: cfg.Issuer, aud: cfg.Audience, issueJTI: issueJTI}, nil
}

func (g *PasetoPublicGenerator) GenerateToken(claims Claims) (string, error) {
	return g.GenerateTokenWithExpiry(claims, 15*time.Minute)
}

func (g *PasetoPublicGenerator) GenerateTokenWithExpiry(claims Claims, ttl time.Duration) (string, error) {
	claims = applyGenerationDefaults(claims, ttl, g.issueJTI, g.issuer, g.aud)
	token, err := newToken(toPayload(claims))
	if err != nil {
		return "", err
	}
	return token.V4Sign(g.privateKey, nil), nil
}
