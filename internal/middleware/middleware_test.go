package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"kotakwatch/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestEdgeKey(t *testing.T) {
	h := EdgeKey("k3y")(okHandler)

	assert.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest("GET", "/roi", nil)).Code)

	r := httptest.NewRequest("GET", "/roi", nil)
	r.Header.Set(EdgeKeyHeader, "k3y")
	assert.Equal(t, http.StatusOK, serve(h, r).Code)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest("GET", "/roi?edge_key=k3y", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest("GET", "/roi?edge_key=nope", nil)).Code)

	open := EdgeKey("")(okHandler)
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest("GET", "/roi", nil)).Code)
}

func TestRequireBearer(t *testing.T) {
	jwtm := auth.NewJWTManager("secret", time.Hour)
	token, _, err := jwtm.GenerateToken(auth.Identity{UserID: 1, TenantID: 4})
	require.NoError(t, err)

	var seen *auth.Claims
	h := RequireBearer(jwtm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
	}))

	rec := serve(h, httptest.NewRequest("POST", "/capture/start", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"missing authorization header"}`, rec.Body.String())

	r := httptest.NewRequest("POST", "/capture/start", nil)
	r.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)

	r = httptest.NewRequest("POST", "/capture/start", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)

	r = httptest.NewRequest("POST", "/capture/start", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(4), seen.TenantID())
}

func TestStreamAuth(t *testing.T) {
	jwtm := auth.NewJWTManager("secret", time.Hour)
	jwtToken, _, err := jwtm.GenerateToken(auth.Identity{UserID: 1, TenantID: 4})
	require.NoError(t, err)

	tests := []struct {
		name   string
		auth   StreamAuth
		target string
		bearer string
		ok     bool
	}{
		{"no token", StreamAuth{Tokens: jwtm}, "/capture/stream", "", false},
		{"jwt query", StreamAuth{Tokens: jwtm}, "/capture/stream?token=" + jwtToken, "", true},
		{"jwt header", StreamAuth{Tokens: jwtm}, "/capture/stream", jwtToken, true},
		{"stream token without config", StreamAuth{Tokens: jwtm}, "/capture/stream?token=abc", "", false},
		{"stream token", StreamAuth{StreamToken: "abc", Tokens: jwtm}, "/capture/stream?token=abc", "", true},
		{"jwt with stream token set", StreamAuth{StreamToken: "abc", Tokens: jwtm}, "/capture/stream?token=" + jwtToken, "", true},
		{"wrong stream token", StreamAuth{StreamToken: "abc", Tokens: jwtm}, "/capture/stream?token=abd", "", false},
		{"edge key missing", StreamAuth{EdgeKey: "k", StreamToken: "abc"}, "/capture/stream?token=abc", "", false},
		{"edge key query", StreamAuth{EdgeKey: "k", StreamToken: "abc"}, "/capture/stream?token=abc&edge_key=k", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			_, ok := tt.auth.Check(r)
			assert.Equal(t, tt.ok, ok)

			want := http.StatusOK
			if !tt.ok {
				want = http.StatusUnauthorized
			}
			assert.Equal(t, want, serve(tt.auth.Middleware(okHandler), r).Code)
		})
	}
}

func TestStreamAuthReport(t *testing.T) {
	a := &StreamAuth{EdgeKey: "k", StreamToken: "abc"}
	r := httptest.NewRequest("GET", "/debug/stream-auth?token=abc", nil)
	r.Header.Set(EdgeKeyHeader, "k")

	assert.Equal(t, StreamAuthReport{
		EdgeKeyEnabled:     true,
		StreamTokenEnabled: true,
		HasTokenQuery:      true,
		HasEdgeKeyHeader:   true,
		StreamAuthOK:       true,
	}, a.Report(r))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	pre := httptest.NewRequest(http.MethodOptions, "/capture/start", nil)
	pre.Header.Set("Origin", "https://app.example")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := serve(h, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Edge-Key")

	other := httptest.NewRequest(http.MethodGet, "/capture/status", nil)
	other.Header.Set("Origin", "https://evil.example")
	rec = serve(h, other)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	wildcard := CORS([]string{"*"})(okHandler)
	rec = serve(wildcard, other)
	assert.Equal(t, "https://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLoggerIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := httpmdlwr.RequestID()(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hi"))
		_, flushable := w.(http.Flusher)
		assert.True(t, flushable)
	})))
	serve(h, httptest.NewRequest("GET", "/capture/status", nil))

	out := buf.String()
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=2")
	assert.Contains(t, out, "path=/capture/status")
	assert.Contains(t, out, "request_id=")
}
