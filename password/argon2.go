package password

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/aloks98/restauth/internal/crypto"
)

// Argon2Config holds the Argon2id parameters.
type Argon2Config struct {
	// Memory is the amount of memory used in KiB.
	Memory uint32

	// Iterations is the number of passes over the memory.
	Iterations uint32

	// Parallelism is the number of threads to use.
	Parallelism uint8

	// SaltLength is the length of the random salt in bytes.
	SaltLength uint32

	// KeyLength is the length of the derived key in bytes.
	KeyLength uint32
}

// DefaultArgon2Config returns the OWASP recommended Argon2id parameters.
func DefaultArgon2Config() *Argon2Config {
	return &Argon2Config{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher implements Hasher using Argon2id.
type Argon2Hasher struct {
	params Argon2Config
}

// NewArgon2Hasher creates an Argon2id hasher. A nil config uses
// DefaultArgon2Config; zero fields take their default.
func NewArgon2Hasher(config *Argon2Config) *Argon2Hasher {
	p := *DefaultArgon2Config()
	if config != nil {
		if config.Memory > 0 {
			p.Memory = config.Memory
		}
		if config.Iterations > 0 {
			p.Iterations = config.Iterations
		}
		if config.Parallelism > 0 {
			p.Parallelism = config.Parallelism
		}
		if config.SaltLength > 0 {
			p.SaltLength = config.SaltLength
		}
		if config.KeyLength > 0 {
			p.KeyLength = config.KeyLength
		}
	}
	return &Argon2Hasher{params: p}
}

// Hash returns the PHC encoding
// $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<key>.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt, err := crypto.GenerateRandomBytes(int(h.params.SaltLength))
	if err != nil {
		return "", err
	}
	p := h.params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if a password matches an Argon2id hash.
func (h *Argon2Hasher) Verify(password, hash string) (bool, error) {
	return verifyArgon2(password, hash)
}

func verifyArgon2(password, encoded string) (bool, error) {
	p, salt, key, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// NeedsRehash reports whether hash was made with other parameters.
func (h *Argon2Hasher) NeedsRehash(hash string) bool {
	p, _, _, err := decodeArgon2(hash)
	if err != nil {
		return true
	}
	return p.Memory != h.params.Memory ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism ||
		p.KeyLength != h.params.KeyLength
}

func decodeArgon2(encoded string) (Argon2Config, []byte, []byte, error) {
	var p Argon2Config
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt)) //nolint:gosec // bounded by the encoded string
	p.KeyLength = uint32(len(key))   //nolint:gosec // bounded by the encoded string
	return p, salt, key, nil
}

var _ Hasher = (*Argon2Hasher)(nil)
