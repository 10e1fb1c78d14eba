// Package services implements the HTTP boundary: ROI editing, capture
// control, streams, auth, tenant settings and diagnostics.
package services

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"

	"kotakwatch/internal/auth"
	"kotakwatch/internal/database"
	"kotakwatch/internal/metrics"
	"kotakwatch/internal/middleware"
	"kotakwatch/internal/pipeline"
	"kotakwatch/internal/roi"
	"kotakwatch/internal/stream"
)

// Store is the persistence the HTTP layer reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	GetCamera(ctx context.Context, id string) (*database.CameraRecord, error)
	FirstCamera(ctx context.Context, tenantID int64) (*database.CameraRecord, error)
	GetTenant(ctx context.Context, id int64) (*database.Tenant, error)
	UpdateTenantTelegram(ctx context.Context, id int64, chatID string, cooldown time.Duration) error
	ListAlertEvents(ctx context.Context, tenantID int64, limit int) ([]*database.AlertEvent, error)
}

// Options configures a Server.
type Options struct {
	Controller *pipeline.Controller
	ROI        *roi.Store
	Store      Store
	Auth       *auth.Authenticator

	EdgeKey     string
	StreamToken string

	// Events serves /ws/events. Metrics backs /metrics and counts stream
	// readers. Either may be nil.
	Events  http.Handler
	Metrics *metrics.Metrics

	EnableDetection bool
	CaptureBackend  string
}

// Server holds the route handlers.
type Server struct {
	ctrl  *pipeline.Controller
	roi   *roi.Store
	store Store
	auth  *auth.Authenticator

	edgeKey    string
	streamAuth *middleware.StreamAuth
	requireJWT func(http.Handler) http.Handler
	edge       func(http.Handler) http.Handler

	events  http.Handler
	metrics *metrics.Metrics

	mjpeg    *stream.MJPEGHandler
	snapshot *stream.SnapshotHandler

	enableDetection bool
	backend         string
	log             *slog.Logger
}

// Mount describes one mounted route.
type Mount struct {
	Method  string
	Pattern string
}

// New builds a Server.
func New(opts Options) *Server {
	s := &Server{
		ctrl:            opts.Controller,
		roi:             opts.ROI,
		store:           opts.Store,
		auth:            opts.Auth,
		edgeKey:         opts.EdgeKey,
		events:          opts.Events,
		metrics:         opts.Metrics,
		enableDetection: opts.EnableDetection,
		backend:         opts.CaptureBackend,
		log:             slog.Default().With("component", "http"),
	}
	var tokens middleware.TokenValidator
	if opts.Auth != nil {
		tokens = opts.Auth
	}
	s.streamAuth = &middleware.StreamAuth{EdgeKey: opts.EdgeKey, StreamToken: opts.StreamToken, Tokens: tokens}
	s.requireJWT = middleware.RequireBearer(tokens)
	s.edge = middleware.EdgeKey(opts.EdgeKey)
	s.mjpeg = stream.NewMJPEGHandler(opts.Controller.Broadcaster(), opts.Controller.Running)
	s.snapshot = stream.NewSnapshotHandler(opts.Controller.Broadcaster())
	return s
}

// Mount registers every route on mux and returns what was mounted.
func (s *Server) Mount(mux goahttp.Muxer) []Mount {
	var mounts []Mount
	handle := func(method, pattern string, h http.Handler) {
		mux.Handle(method, pattern, h.ServeHTTP)
		mounts = append(mounts, Mount{Method: method, Pattern: pattern})
	}
	edge := func(h http.HandlerFunc) http.Handler { return s.edge(h) }
	jwt := func(h http.HandlerFunc) http.Handler { return s.requireJWT(h) }
	streamed := func(h http.HandlerFunc) http.Handler { return s.streamAuth.Middleware(h) }

	handle("GET", "/", http.HandlerFunc(s.root))
	handle("GET", "/healthz", http.HandlerFunc(s.healthz))
	handle("GET", "/readyz", http.HandlerFunc(s.readyz))
	handle("GET", "/debug/stream-auth", http.HandlerFunc(s.debugStreamAuth))

	handle("GET", "/roi", edge(s.getROI))
	handle("POST", "/roi", edge(s.saveROI))
	handle("DELETE", "/roi", edge(s.clearROI))

	// /camera/* are the paths older dashboards still call.
	for _, prefix := range []string{"/capture", "/camera"} {
		handle("POST", prefix+"/start", s.edge(jwt(s.startCapture)))
		handle("POST", prefix+"/stop", edge(s.stopCapture))
		handle("GET", prefix+"/status", edge(s.captureStatus))
		handle("GET", prefix+"/stream", streamed(s.captureStream))
	}
	handle("GET", "/capture/frame", streamed(s.captureFrame))
	handle("GET", "/camera/frame.jpg", streamed(s.captureFrame))

	handle("POST", "/auth/login", http.HandlerFunc(s.login))
	handle("POST", "/auth/register-masjid", http.HandlerFunc(s.registerMasjid))

	handle("GET", "/tenant/alerts", jwt(s.listAlerts))
	handle("PUT", "/tenant/telegram", jwt(s.updateTelegram))

	if s.events != nil {
		handle("GET", "/ws/events", s.events)
	}
	if s.metrics != nil {
		handle("GET", "/metrics", s.metrics.Handler())
	}
	return mounts
}

// encode writes v as the response body with status.
func (s *Server) encode(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(r.Context(), w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "path", r.URL.Path, "error", err)
	}
}

// decode reads a request body into v.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return errEmptyBody
	}
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		return &badRequestError{msg: "invalid request body: " + err.Error()}
	}
	return nil
}
