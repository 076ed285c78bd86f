// Package redact renders credential material safe for logs.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
)

const visiblePrefix = 6

// Secret keeps a short prefix of s and masks the rest. Values too short to
// keep a prefix are fully masked.
func Secret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= visiblePrefix*2 {
		return "***"
	}
	return s[:visiblePrefix] + "..."
}

// Digest returns a short SHA-256 fingerprint of s, stable across calls so
// log lines about the same credential can be correlated.
func Digest(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:6])
}
