// Package signer wraps key material behind a single sign/verify surface.
//
// A Signer is bound to exactly one algorithm. Asymmetric algorithms
// (RS*, PS*, ES*, EdDSA) are preferred; HMAC (HS*) is supported for
// single-service deployments where the verifier also holds the secret.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLength is the minimum HMAC secret size in bytes.
const MinHMACSecretLength = 32

// Errors returned by the signer.
var (
	ErrUnsupportedAlgorithm = errors.New("signer: unsupported algorithm")
	ErrInvalidKey           = errors.New("signer: invalid key")
	ErrVerifyOnly           = errors.New("signer: no private key, verify only")
	ErrSignatureInvalid     = errors.New("signer: signature is invalid")
)

// Signer produces and verifies signatures over byte strings.
// It is safe for concurrent use.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
}

// New creates a Signer for alg. signKey may be nil to build a verify-only
// signer; verifyKey may be nil when it can be derived from signKey.
//
// Accepted key types per family:
//   - HS*: []byte secret (signKey only)
//   - RS*, PS*: *rsa.PrivateKey / *rsa.PublicKey
//   - ES*: *ecdsa.PrivateKey / *ecdsa.PublicKey, curve matching the algorithm
//   - EdDSA: ed25519.PrivateKey / ed25519.PublicKey
func New(alg string, signKey, verifyKey any) (*Signer, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil || alg == jwt.SigningMethodNone.Alg() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	s := &Signer{method: method}

	switch m := method.(type) {
	case *jwt.SigningMethodHMAC:
		secret, ok := signKey.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires a []byte secret", ErrInvalidKey, alg)
		}
		if len(secret) < MinHMACSecretLength {
			return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidKey, MinHMACSecretLength)
		}
		s.signKey = secret
		s.verifyKey = secret
		return s, nil

	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		var pub *rsa.PublicKey
		if signKey != nil {
			priv, ok := signKey.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s requires *rsa.PrivateKey", ErrInvalidKey, alg)
			}
			s.signKey = priv
			pub = &priv.PublicKey
		}
		if verifyKey != nil {
			k, ok := verifyKey.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s requires *rsa.PublicKey", ErrInvalidKey, alg)
			}
			if pub != nil && !pub.Equal(k) {
				return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
			}
			pub = k
		}
		if pub == nil {
			return nil, fmt.Errorf("%w: no key material", ErrInvalidKey)
		}
		if pub.Size() < 256 {
			return nil, fmt.Errorf("%w: RSA keys must be at least 2048 bits", ErrInvalidKey)
		}
		s.verifyKey = pub

	case *jwt.SigningMethodECDSA:
		var pub *ecdsa.PublicKey
		if signKey != nil {
			priv, ok := signKey.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s requires *ecdsa.PrivateKey", ErrInvalidKey, alg)
			}
			s.signKey = priv
			pub = &priv.PublicKey
		}
		if verifyKey != nil {
			k, ok := verifyKey.(*ecdsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s requires *ecdsa.PublicKey", ErrInvalidKey, alg)
			}
			if pub != nil && !pub.Equal(k) {
				return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
			}
			pub = k
		}
		if pub == nil {
			return nil, fmt.Errorf("%w: no key material", ErrInvalidKey)
		}
		if pub.Curve.Params().BitSize != m.CurveBits {
			return nil, fmt.Errorf("%w: %s requires a %d-bit curve", ErrInvalidKey, alg, m.CurveBits)
		}
		s.verifyKey = pub

	case *jwt.SigningMethodEd25519:
		var pub ed25519.PublicKey
		if signKey != nil {
			priv, ok := signKey.(ed25519.PrivateKey)
			if !ok || len(priv) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("%w: %s requires ed25519.PrivateKey", ErrInvalidKey, alg)
			}
			s.signKey = priv
			pub = priv.Public().(ed25519.PublicKey)
		}
		if verifyKey != nil {
			k, ok := verifyKey.(ed25519.PublicKey)
			if !ok || len(k) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("%w: %s requires ed25519.PublicKey", ErrInvalidKey, alg)
			}
			if pub != nil && !pub.Equal(k) {
				return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
			}
			pub = k
		}
		if pub == nil {
			return nil, fmt.Errorf("%w: no key material", ErrInvalidKey)
		}
		s.verifyKey = pub

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	kid, err := thumbprint(s.verifyKey)
	if err != nil {
		return nil, err
	}
	s.keyID = kid
	return s, nil
}

// NewHMAC creates an HMAC signer from a shared secret.
func NewHMAC(alg string, secret []byte) (*Signer, error) {
	return New(alg, secret, nil)
}

// Algorithm returns the algorithm name as carried in token headers.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Method returns the underlying signing method.
func (s *Signer) Method() jwt.SigningMethod {
	return s.method
}

// KeyID returns a stable identifier derived from the public key.
// HMAC signers have no key ID.
func (s *Signer) KeyID() string {
	return s.keyID
}

// CanSign reports whether the signer holds private key material.
func (s *Signer) CanSign() bool {
	return s.signKey != nil
}

// Public returns the verification key. For HMAC signers it returns nil.
func (s *Signer) Public() crypto.PublicKey {
	if _, ok := s.method.(*jwt.SigningMethodHMAC); ok {
		return nil
	}
	return s.verifyKey
}

// Sign returns the signature of data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if s.signKey == nil {
		return nil, ErrVerifyOnly
	}
	return s.method.Sign(string(data), s.signKey)
}

// Verify checks sig against data. Any mismatch yields ErrSignatureInvalid.
func (s *Signer) Verify(data, sig []byte) error {
	if len(sig) == 0 {
		return ErrSignatureInvalid
	}
	if err := s.method.Verify(string(data), sig, s.verifyKey); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// thumbprint hashes the DER encoded public key.
func thumbprint(key any) (string, error) {
	if _, ok := key.([]byte); ok {
		return "", nil
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}
