// Package crypto provides cryptographic random helpers.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

// passwordAlphabet omits characters that are easy to misread (0/O, 1/l/I).
const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRandomBytes generates n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRandomHex generates a random hex string of the specified byte length.
// The returned string will be 2*byteLength characters.
func GenerateRandomHex(byteLength int) (string, error) {
	b, err := GenerateRandomBytes(byteLength)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GeneratePassword returns n characters drawn uniformly from an unambiguous
// alphanumeric alphabet.
func GeneratePassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(passwordAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// GroupChunks splits s into space separated groups of size n for display.
func GroupChunks(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i += n {
		if i > 0 {
			sb.WriteByte(' ')
		}
		end := i + n
		if end > len(s) {
			end = len(s)
		}
		sb.WriteString(s[i:end])
	}
	return sb.String()
}

// StripSpaces removes all whitespace from s. Grouped passwords are accepted
// with or without their separators.
func StripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
