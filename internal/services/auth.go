package services

import (
	"net/http"
	"strings"

	"kotakwatch/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login accepts a JSON body or an OAuth2 password form.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, &badRequestError{msg: "invalid form body"})
			return
		}
		req.Username, req.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	} else if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.writeError(w, r, &badRequestError{msg: "username and password are required"})
		return
	}

	token, err := s.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		s.log.Info("login rejected", "username", req.Username, "error", err)
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, token)
}

type registerResponse struct {
	OK               bool   `json:"ok"`
	MasjidID         int64  `json:"masjid_id"`
	AdminUsername    string `json:"admin_username"`
	CameraID         string `json:"camera_id"`
	CameraSourceType string `json:"camera_source_type"`
	CameraSourcePath string `json:"camera_source_path"`
}

// registerMasjid creates a tenant with its admin user and network camera.
func (s *Server) registerMasjid(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reg, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("tenant registered", "masjid_id", reg.TenantID, "username", req.Username)
	s.encode(w, r, http.StatusOK, registerResponse{
		OK:               true,
		MasjidID:         reg.TenantID,
		AdminUsername:    req.Username,
		CameraID:         reg.CameraID,
		CameraSourceType: "ipcam",
		CameraSourcePath: req.CameraURL,
	})
}
