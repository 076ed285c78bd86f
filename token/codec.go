package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aloks98/restauth/signer"
)

// Codec turns claims into compact signed strings and back.
type Codec struct {
	signer    *signer.Signer
	parser    *jwt.Parser
	validator *jwt.Validator
}

// CodecConfig controls claim validation during Decode.
type CodecConfig struct {
	// Issuer, when set, must equal the iss claim.
	Issuer string

	// Audience, when set, must be contained in the aud claim.
	Audience string

	// ClockSkew is tolerated on exp and nbf.
	ClockSkew time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewCodec creates a codec bound to s.
func NewCodec(s *signer.Signer, cfg CodecConfig) *Codec {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Codec{
		signer:    s,
		parser:    jwt.NewParser(),
		validator: jwt.NewValidator(opts...),
	}
}

// Encode signs claims and returns the compact token.
func (c *Codec) Encode(claims *Claims) (string, error) {
	t := jwt.NewWithClaims(c.signer.Method(), claims)
	if kid := c.signer.KeyID(); kid != "" {
		t.Header["kid"] = kid
	}

	signing, err := t.SigningString()
	if err != nil {
		return "", err
	}

	sig, err := c.signer.Sign([]byte(signing))
	if err != nil {
		return "", err
	}

	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode verifies raw and returns its claims.
func (c *Codec) Decode(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	claims, t, err := c.peek(raw)
	if err != nil {
		return nil, err
	}
	if t.Method == nil || t.Method.Alg() != c.signer.Algorithm() {
		return nil, ErrTokenInvalid
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	if err := c.signer.Verify([]byte(parts[0]+"."+parts[1]), sig); err != nil {
		return nil, ErrTokenInvalidSignature
	}

	if err := c.validator.Validate(claims); err != nil {
		return nil, mapJWTError(err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if !claims.IsAccess() && !claims.IsRefresh() {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Peek decodes claims without verifying the signature or time claims.
// Use it only to locate a token, never to trust one.
func (c *Codec) Peek(raw string) (*Claims, error) {
	claims, _, err := c.peek(raw)
	return claims, err
}

func (c *Codec) peek(raw string) (*Claims, *jwt.Token, error) {
	claims := &Claims{}
	t, _, err := c.parser.ParseUnverified(raw, claims)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, nil, ErrTokenInvalid
		}
		return nil, nil, ErrTokenMalformed
	}
	return claims, t, nil
}

// mapJWTError maps validation errors from the jwt library to ours.
func mapJWTError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid
	}
}
