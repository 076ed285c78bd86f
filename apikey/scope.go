package apikey

import "strings"

// ScopeWildcard grants every resource and action.
const ScopeWildcard = "*"

// MatchScope reports whether a granted scope covers want. Scopes have the
// form resource:action and "*" on either side is a wildcard. A bare
// granted scope such as "read" names an action on every resource.
func MatchScope(have, want string) bool {
	if have == ScopeWildcard || have == want {
		return true
	}

	haveRes, haveAct, ok := strings.Cut(have, ":")
	if !ok {
		haveRes, haveAct = ScopeWildcard, have
	}
	wantRes, wantAct, ok := strings.Cut(want, ":")
	if !ok {
		return false
	}
	return (haveRes == ScopeWildcard || haveRes == wantRes) &&
		(haveAct == ScopeWildcard || haveAct == wantAct)
}

// ScopesAllow reports whether any of scopes covers want. A key without
// scopes is unrestricted.
func ScopesAllow(scopes []string, want string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if MatchScope(s, want) {
			return true
		}
	}
	return false
}
