package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"kotakwatch/internal/capture"
	"kotakwatch/internal/database"
	"kotakwatch/internal/middleware"
	"kotakwatch/internal/pipeline"
)

type startResponse struct {
	OK       bool   `json:"ok"`
	Msg      string `json:"msg,omitempty"`
	MasjidID int64  `json:"masjid_id,omitempty"`
	Source   string `json:"source,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// startCapture launches a run for the caller's tenant. Query parameters
// select the source; without "source" the tenant's stored camera is used.
func (s *Server) startCapture(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		middleware.WriteError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	cfg, err := s.captureConfig(r, claims.TenantID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ctrl.Start(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.AlreadyRunning {
		s.encode(w, r, http.StatusOK, startResponse{OK: true, Msg: "already running"})
		return
	}
	s.log.Info("capture started", "masjid_id", res.TenantID, "source", res.Source, "run_id", res.RunID)
	s.encode(w, r, http.StatusOK, startResponse{OK: true, MasjidID: res.TenantID, Source: res.Source, RunID: res.RunID})
}

// captureConfig builds the run config from the query string, falling back to
// the camera_id record or the tenant's first camera when no source is given.
func (s *Server) captureConfig(r *http.Request, tenantID int64) (capture.Config, error) {
	q := r.URL.Query()
	cameraID := strings.TrimSpace(q.Get("camera_id"))

	if q.Get("source") == "" && s.store != nil {
		cam, err := s.lookupCamera(r, tenantID, cameraID)
		if err != nil {
			return capture.Config{}, err
		}
		if cam != nil {
			return cam.CaptureConfig()
		}
	}

	kind, err := capture.ParseKind(q.Get("source"))
	if err != nil {
		return capture.Config{}, err
	}
	cfg := capture.Config{
		Kind:     kind,
		Path:     strings.TrimSpace(q.Get("path")),
		TenantID: tenantID,
		CameraID: cameraID,
	}
	if v := q.Get("index"); v != "" {
		if cfg.Index, err = strconv.Atoi(v); err != nil {
			return capture.Config{}, &capture.ConfigError{Field: "index", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
	}
	if v := q.Get("loop"); v != "" {
		if cfg.Loop, err = strconv.ParseBool(v); err != nil {
			return capture.Config{}, &capture.ConfigError{Field: "loop", Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
	}
	return cfg, nil
}

func (s *Server) lookupCamera(r *http.Request, tenantID int64, cameraID string) (*database.CameraRecord, error) {
	if cameraID == "" {
		return s.store.FirstCamera(r.Context(), tenantID)
	}
	cam, err := s.store.GetCamera(r.Context(), cameraID)
	if err != nil {
		return nil, err
	}
	if cam == nil || cam.TenantID != tenantID {
		return nil, fmt.Errorf("camera %s: %w", cameraID, errNotFound)
	}
	return cam, nil
}

func (s *Server) stopCapture(w http.ResponseWriter, r *http.Request) {
	if s.ctrl.Stop() {
		s.log.Info("capture stopped")
	}
	s.encode(w, r, http.StatusOK, okResponse{OK: true})
}

func (s *Server) captureStatus(w http.ResponseWriter, r *http.Request) {
	s.encode(w, r, http.StatusOK, s.ctrl.Status())
}

func (s *Server) captureStream(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Running() {
		s.writeError(w, r, pipeline.ErrNotRunning)
		return
	}
	if s.metrics != nil {
		s.metrics.StreamClients.Add(1)
		defer s.metrics.StreamClients.Add(-1)
	}
	s.mjpeg.ServeHTTP(w, r)
}

func (s *Server) captureFrame(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Running() {
		s.writeError(w, r, pipeline.ErrNotRunning)
		return
	}
	s.snapshot.ServeHTTP(w, r)
}
