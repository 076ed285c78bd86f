package apikey

import (
	"errors"
	"strings"

	"github.com/aloks98/restauth/internal/hash"
)

// separator joins the five key segments.
const separator = "_"

// parsedKey is the structural view of a raw key.
type parsedKey struct {
	prefix   string
	scope    string
	subject  string
	random   string
	checksum string
}

// formatKey assembles prefix_scope_subject_random_checksum.
func formatKey(prefix, scope, subject, random, checksum string) string {
	return strings.Join([]string{prefix, scope, subject, random, checksum}, separator)
}

// checksum is the first checksumLength hex characters of
// HMAC-SHA256(secret, scope, subject, random).
func checksum(secret []byte, scope, subject, random string) string {
	return hash.HMACSHA256(secret, scope, subject, random)[:checksumLength]
}

// parseKey splits a raw key into its segments.
func parseKey(rawKey string) (parsedKey, error) {
	parts := strings.Split(rawKey, separator)
	if len(parts) != 5 {
		return parsedKey{}, errors.New("invalid key format: expected 5 segments")
	}
	for _, p := range parts {
		if p == "" {
			return parsedKey{}, errors.New("invalid key format: empty segment")
		}
	}
	if len(parts[4]) != checksumLength || !isHex(parts[4]) || !isHex(parts[3]) {
		return parsedKey{}, errors.New("invalid key format: bad encoding")
	}
	return parsedKey{
		prefix:   parts[0],
		scope:    parts[1],
		subject:  parts[2],
		random:   parts[3],
		checksum: parts[4],
	}, nil
}

// validSegment reports whether s can be embedded in a key.
func validSegment(s string) bool {
	return s != "" && !strings.Contains(s, separator)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// getHint returns the last n characters of a string.
func getHint(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
