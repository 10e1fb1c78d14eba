package services

import (
	"context"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

type rootResponse struct {
	OK                 bool    `json:"ok"`
	EnableCapture      bool    `json:"enable_capture"`
	EnableYOLO         bool    `json:"enable_yolo"`
	Backend            string  `json:"backend"`
	BackendOK          bool    `json:"backend_ok"`
	BackendError       *string `json:"backend_error"`
	Detector           string  `json:"detector"`
	DetectorHealthy    bool    `json:"detector_healthy"`
	EdgeKeyEnabled     bool    `json:"edge_key_enabled"`
	StreamTokenEnabled bool    `json:"stream_token_enabled"`
	Running            bool    `json:"running"`
}

// root reports which features are on and whether the backends answer.
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := rootResponse{
		OK:                 true,
		EnableCapture:      s.ctrl.CaptureEnabled(),
		EnableYOLO:         s.enableDetection,
		Backend:            s.backend,
		BackendOK:          true,
		EdgeKeyEnabled:     s.edgeKey != "",
		StreamTokenEnabled: s.streamAuth.StreamToken != "",
		Running:            s.ctrl.Running(),
	}
	if err := s.ctrl.BackendError(); err != nil {
		msg := err.Error()
		resp.BackendOK, resp.BackendError = false, &msg
	}
	resp.Detector, resp.DetectorHealthy = s.ctrl.DetectorHealth(ctx)
	s.encode(w, r, http.StatusOK, resp)
}

// healthz is the liveness probe.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.encode(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz is the readiness probe; the database must answer.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("readiness check failed", "error", err)
			s.encode(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": "database unreachable"})
			return
		}
	}
	s.encode(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) debugStreamAuth(w http.ResponseWriter, r *http.Request) {
	s.encode(w, r, http.StatusOK, s.streamAuth.Report(r))
}
