package middleware

import (
	"crypto/subtle"
	"net/http"
)

const (
	EdgeKeyHeader = "X-Edge-Key"
	EdgeKeyQuery  = "edge_key"
)

// EdgeKeyFromRequest reads the edge key from the header, falling back to
// the query string so <img> tags can pass it.
func EdgeKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get(EdgeKeyHeader); k != "" {
		return k
	}
	return r.URL.Query().Get(EdgeKeyQuery)
}

// EdgeKeyValid reports whether r carries expected. An empty expected key
// disables the check.
func EdgeKeyValid(expected string, r *http.Request) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(EdgeKeyFromRequest(r)), []byte(expected)) == 1
}

// EdgeKey rejects requests that do not carry the shared edge key.
func EdgeKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !EdgeKeyValid(expected, r) {
				WriteError(w, r, http.StatusUnauthorized, "invalid edge key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
