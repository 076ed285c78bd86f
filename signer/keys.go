package signer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// FromPEM builds a Signer from a PEM encoded private key.
func FromPEM(alg string, privatePEM []byte) (*Signer, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	var (
		key any
		err error
	)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	case *jwt.SigningMethodECDSA:
		key, err = jwt.ParseECPrivateKeyFromPEM(privatePEM)
	case *jwt.SigningMethodEd25519:
		key, err = jwt.ParseEdPrivateKeyFromPEM(privatePEM)
	default:
		return nil, fmt.Errorf("%w: %s keys are not PEM encoded", ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return New(alg, key, nil)
}

// PublicFromPEM builds a verify-only Signer from a PEM encoded public key.
func PublicFromPEM(alg string, publicPEM []byte) (*Signer, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	var (
		key any
		err error
	)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	case *jwt.SigningMethodECDSA:
		key, err = jwt.ParseECPublicKeyFromPEM(publicPEM)
	case *jwt.SigningMethodEd25519:
		key, err = jwt.ParseEdPublicKeyFromPEM(publicPEM)
	default:
		return nil, fmt.Errorf("%w: %s keys are not PEM encoded", ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return New(alg, nil, key)
}

// LoadFile reads a PEM private key from path and builds a Signer.
func LoadFile(alg, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return FromPEM(alg, data)
}

// Generate creates a Signer with freshly generated key material.
// Intended for development and tests; production keys should be loaded.
func Generate(alg string) (*Signer, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	switch m := method.(type) {
	case *jwt.SigningMethodHMAC:
		secret := make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return NewHMAC(alg, secret)
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		return New(alg, key, nil)
	case *jwt.SigningMethodECDSA:
		var curve elliptic.Curve
		switch m.CurveBits {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
		}
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, err
		}
		return New(alg, key, nil)
	case *jwt.SigningMethodEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return New(alg, key, nil)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

// PrivateKeyPEM encodes the private key as PKCS#8 PEM.
func (s *Signer) PrivateKeyPEM() ([]byte, error) {
	if s.signKey == nil {
		return nil, ErrVerifyOnly
	}
	if _, ok := s.signKey.([]byte); ok {
		return nil, fmt.Errorf("%w: HMAC secrets are not PEM encoded", ErrInvalidKey)
	}
	der, err := x509.MarshalPKCS8PrivateKey(s.signKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM encodes the public key as PKIX PEM.
func (s *Signer) PublicKeyPEM() ([]byte, error) {
	pub := s.Public()
	if pub == nil {
		return nil, fmt.Errorf("%w: HMAC signers have no public key", ErrInvalidKey)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
