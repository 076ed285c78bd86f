package restauth

import (
	"net/http"
	"strings"

	"github.com/aloks98/restauth/internal/redact"
	"github.com/aloks98/restauth/ratelimit"
)

// CredentialKind identifies the shape of a credential.
type CredentialKind string

// Credential kinds.
const (
	KindBearer CredentialKind = "bearer"
	KindAPIKey CredentialKind = "api-key"
	KindBasic  CredentialKind = "basic"
)

// Credential is what a request presents. Only the fields of its Kind are
// set; RemoteIP is always filled when known.
type Credential struct {
	Kind     CredentialKind
	Token    string
	APIKey   string
	Username string
	Secret   string
	RemoteIP string
}

// String renders the credential without secret material.
func (c Credential) String() string {
	switch c.Kind {
	case KindBearer:
		return "bearer " + redact.Secret(c.Token)
	case KindAPIKey:
		return "api-key " + redact.Secret(c.APIKey)
	case KindBasic:
		return "basic " + c.Username
	default:
		return "none"
	}
}

// ExtractCredential reads the credential carried by r. The first match
// wins: Authorization Bearer, then Authorization Key or X-API-Key, then
// HTTP basic auth.
func ExtractCredential(r *http.Request) (Credential, bool) {
	ip := ratelimit.ClientIP(r)
	authz := strings.TrimSpace(r.Header.Get("Authorization"))

	if v, ok := cutScheme(authz, "Bearer"); ok {
		return Credential{Kind: KindBearer, Token: v, RemoteIP: ip}, true
	}
	if v, ok := cutScheme(authz, "Key"); ok {
		return Credential{Kind: KindAPIKey, APIKey: v, RemoteIP: ip}, true
	}
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return Credential{Kind: KindAPIKey, APIKey: v, RemoteIP: ip}, true
	}
	if user, pass, ok := r.BasicAuth(); ok && user != "" {
		return Credential{Kind: KindBasic, Username: user, Secret: pass, RemoteIP: ip}, true
	}
	return Credential{RemoteIP: ip}, false
}

// cutScheme returns the value of an Authorization header using scheme.
func cutScheme(header, scheme string) (string, bool) {
	if len(header) <= len(scheme)+1 || !strings.EqualFold(header[:len(scheme)], scheme) || header[len(scheme)] != ' ' {
		return "", false
	}
	v := strings.TrimSpace(header[len(scheme)+1:])
	return v, v != ""
}
