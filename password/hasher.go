// Package password hashes login secrets and application passwords.
//
// Hashes are self-describing: bcrypt hashes carry their cost and Argon2id
// hashes use the PHC string format, so Verify can check either without
// knowing which hasher produced them.
package password

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by hashers.
var (
	// ErrInvalidHash indicates a stored hash that cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid hash")

	// ErrIncompatibleVersion indicates an Argon2 hash from another version.
	ErrIncompatibleVersion = errors.New("password: incompatible argon2 version")

	// ErrUnknownAlgorithm indicates an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("password: unknown algorithm")

	// ErrTooLong indicates a password longer than the algorithm accepts.
	ErrTooLong = errors.New("password: too long")
)

// Algorithm names accepted by New.
const (
	Bcrypt   = "bcrypt"
	Argon2id = "argon2id"
)

// Hasher hashes and verifies secrets.
type Hasher interface {
	// Hash creates a hash from a password.
	Hash(password string) (string, error)

	// Verify checks if a password matches a hash.
	Verify(password, hash string) (bool, error)

	// NeedsRehash reports whether hash was made with other parameters.
	NeedsRehash(hash string) bool
}

// New returns a hasher with default parameters for alg.
func New(alg string) (Hasher, error) {
	switch strings.ToLower(alg) {
	case Bcrypt, "":
		return NewBcryptHasher(nil), nil
	case Argon2id, "argon2":
		return NewArgon2Hasher(nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}

// Verify checks password against a hash produced by any supported hasher.
func Verify(password, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return verifyArgon2(password, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return verifyBcrypt(password, hash)
	default:
		return false, ErrInvalidHash
	}
}
