package authz

import "strings"

// ScopeMatches reports whether a single granted scope satisfies a
// required scope. A trailing "*" on either side matches any suffix:
//
//	granted "memory.*"                  satisfies "memory.write"
//	granted "provider.invoke:anthropic" satisfies "provider.invoke:*"
//	granted "*"                         satisfies anything
func ScopeMatches(granted, required string) bool {
	if granted == required {
		return true
	}
	if p, ok := strings.CutSuffix(granted, "*"); ok && strings.HasPrefix(required, p) {
		return true
	}
	if p, ok := strings.CutSuffix(required, "*"); ok && strings.HasPrefix(granted, p) {
		return true
	}
	return false
}

// ScopesAllow reports whether any granted scope satisfies the
// requirement. An empty requirement always passes.
func ScopesAllow(granted []string, required string) bool {
	if required == "" {
		return true
	}
	for _, g := range granted {
		if ScopeMatches(g, required) {
			return true
		}
	}
	return false
}

// routeScope is the static route table mapping an HTTP operation to the
// scope it requires. Longest-prefix entries first; kernel boot carries
// only the coarse scope here, the per-kernel scope is enforced again at
// boot time.
var routeScopes = []struct {
	method string
	prefix string
	scope  string
}{
	{"POST", "/boot", "boot.invoke"},
	{"POST", "/spans", "span.write"},
	{"GET", "/spans", "span.read"},
	{"GET", "/timeline", "span.read"},
	{"GET", "/xray", "span.read"},
	{"POST", "/wallet/open", "wallet.open"},
	{"POST", "/wallet/sign/span", "span.sign"},
	{"POST", "/wallet/sign/http", "http.sign"},
	{"POST", "/wallet/provider/", "provider.invoke:*"},
	{"POST", "/wallet/key/", "wallet.keys.write"},
	{"GET", "/wallet/keys", "wallet.keys.read"},
	{"POST", "/auth/keys/issue", "auth.keys.write"},
	{"POST", "/auth/keys/revoke", "auth.keys.write"},
	{"POST", "/auth/keys/rotate", "auth.keys.write"},
	{"GET", "/auth/keys", "auth.keys.read"},
}

// RouteScope returns the scope required for a method and path, or ""
// when the route is unguarded by a scope (authentication alone).
func RouteScope(method, path string) string {
	for _, r := range routeScopes {
		if r.method == method && strings.HasPrefix(path, r.prefix) {
			return r.scope
		}
	}
	return ""
}
