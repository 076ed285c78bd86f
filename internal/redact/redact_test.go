package redact

import (
	"strings"
	"testing"
)

func TestSecret(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc", "***"},
		{"boundary", "abcdefghijkl", "***"},
		{"long", "rak_site_42_deadbeef", "rak_si..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Secret(tt.in); got != tt.want {
				t.Errorf("Secret(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDigest(t *testing.T) {
	a := Digest("token-a")
	if !strings.HasPrefix(a, "sha256:") || len(a) != len("sha256:")+12 {
		t.Errorf("unexpected digest format %q", a)
	}
	if a != Digest("token-a") {
		t.Error("digest should be stable")
	}
	if a == Digest("token-b") {
		t.Error("different inputs should not collide")
	}
	if strings.Contains(a, "token-a") {
		t.Error("digest must not contain the input")
	}
	if Digest("") != "" {
		t.Error("empty input should give empty digest")
	}
}
