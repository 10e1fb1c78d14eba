package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"kotakwatch/internal/auth"
)

// StreamAuth gates the stream and snapshot routes. Browsers cannot set
// headers on <img>, so both the edge key and the token may come from the
// query string.
type StreamAuth struct {
	EdgeKey     string
	StreamToken string
	Tokens      TokenValidator
}

// Token returns the stream credential from the "token" query parameter or
// the bearer header.
func (a *StreamAuth) Token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return BearerToken(r)
}

// Check authorizes r. Claims are returned when the credential was a JWT.
// With a stream token configured either it or any valid JWT passes;
// otherwise a valid JWT is required.
func (a *StreamAuth) Check(r *http.Request) (*auth.Claims, bool) {
	if !EdgeKeyValid(a.EdgeKey, r) {
		return nil, false
	}
	token := a.Token(r)
	if token == "" {
		return nil, false
	}
	if a.StreamToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.StreamToken)) == 1 {
		return nil, true
	}
	if a.Tokens == nil || strings.Count(token, ".") != 2 {
		return nil, false
	}
	claims, err := a.Tokens.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// Middleware rejects unauthorized requests with 401 and stores JWT claims
// in the context when present.
func (a *StreamAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.Check(r)
		if !ok {
			WriteError(w, r, http.StatusUnauthorized, "unauthorized stream")
			return
		}
		if claims != nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

// StreamAuthReport explains which credentials a request presented.
type StreamAuthReport struct {
	EdgeKeyEnabled     bool `json:"edge_key_enabled"`
	StreamTokenEnabled bool `json:"stream_token_enabled"`
	HasTokenQuery      bool `json:"has_token_query"`
	HasEdgeKeyQuery    bool `json:"has_edge_key_query"`
	HasBearerHeader    bool `json:"has_bearer_header"`
	HasEdgeKeyHeader   bool `json:"has_edge_key_header"`
	StreamAuthOK       bool `json:"stream_auth_ok"`
}

// Report describes r without rejecting it.
func (a *StreamAuth) Report(r *http.Request) StreamAuthReport {
	q := r.URL.Query()
	_, ok := a.Check(r)
	return StreamAuthReport{
		EdgeKeyEnabled:     a.EdgeKey != "",
		StreamTokenEnabled: a.StreamToken != "",
		HasTokenQuery:      q.Get("token") != "",
		HasEdgeKeyQuery:    q.Get(EdgeKeyQuery) != "",
		HasBearerHeader:    BearerToken(r) != "",
		HasEdgeKeyHeader:   r.Header.Get(EdgeKeyHeader) != "",
		StreamAuthOK:       ok,
	}
}
