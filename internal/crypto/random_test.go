package crypto

import (
	"strings"
	"testing"
)

func TestGenerateRandomBytes(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"16 bytes", 16},
		{"32 bytes", 32},
		{"64 bytes", 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := GenerateRandomBytes(tt.length)
			if err != nil {
				t.Fatalf("GenerateRandomBytes() error = %v", err)
			}
			if len(b) != tt.length {
				t.Errorf("len = %d, want %d", len(b), tt.length)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	h, err := GenerateRandomHex(16)
	if err != nil {
		t.Fatalf("GenerateRandomHex() error = %v", err)
	}
	if len(h) != 32 {
		t.Errorf("len = %d, want 32", len(h))
	}
	if strings.Trim(h, "0123456789abcdef") != "" {
		t.Errorf("non-hex characters in %q", h)
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p, err := GeneratePassword(24)
		if err != nil {
			t.Fatalf("GeneratePassword() error = %v", err)
		}
		if len(p) != 24 {
			t.Fatalf("len = %d, want 24", len(p))
		}
		for _, c := range p {
			if !strings.ContainsRune(passwordAlphabet, c) {
				t.Fatalf("unexpected character %q", c)
			}
		}
		if seen[p] {
			t.Fatal("generated duplicate password")
		}
		seen[p] = true
	}
}

func TestGroupChunks(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdefgh", 4, "abcd efgh"},
		{"abcdefghij", 4, "abcd efgh ij"},
		{"abc", 4, "abc"},
		{"abcdef", 0, "abcdef"},
	}
	for _, tt := range tests {
		if got := GroupChunks(tt.in, tt.n); got != tt.want {
			t.Errorf("GroupChunks(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestStripSpaces(t *testing.T) {
	if got := StripSpaces(" abcd efgh\tij "); got != "abcdefghij" {
		t.Errorf("StripSpaces() = %q", got)
	}
}
