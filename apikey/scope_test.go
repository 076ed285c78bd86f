package apikey

import "testing"

func TestMatchScope(t *testing.T) {
	tests := []struct {
		have string
		want string
		ok   bool
	}{
		{"*", "posts:read", true},
		{"posts:read", "posts:read", true},
		{"posts:*", "posts:delete", true},
		{"*:read", "users:read", true},
		{"read", "users:read", true},
		{"read", "users:delete", false},
		{"posts:read", "posts:update", false},
		{"posts", "posts:read", false},
		{"users:*", "posts:read", false},
		{"posts:read", "read", false},
	}

	for _, tt := range tests {
		t.Run(tt.have+"_"+tt.want, func(t *testing.T) {
			if got := MatchScope(tt.have, tt.want); got != tt.ok {
				t.Errorf("MatchScope(%q, %q) = %v, want %v", tt.have, tt.want, got, tt.ok)
			}
		})
	}
}

func TestScopesAllow(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   string
		ok     bool
	}{
		{"unrestricted", nil, "posts:delete", true},
		{"one matches", []string{"users:read", "posts:*"}, "posts:delete", true},
		{"none match", []string{"users:read"}, "posts:read", false},
		{"wildcard", []string{"*"}, "posts:delete", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopesAllow(tt.scopes, tt.want); got != tt.ok {
				t.Errorf("ScopesAllow(%v, %q) = %v, want %v", tt.scopes, tt.want, got, tt.ok)
			}
		})
	}
}
