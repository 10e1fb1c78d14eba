package services

import (
	"errors"
	"net/http"

	"kotakwatch/internal/auth"
	"kotakwatch/internal/capture"
	"kotakwatch/internal/middleware"
	"kotakwatch/internal/pipeline"
	"kotakwatch/internal/roi"
)

var (
	errEmptyBody = &badRequestError{msg: "request body required"}
	errNotFound  = errors.New("not found")
)

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// writeError maps err to a status code and writes {"detail": ...}.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := "internal error"

	var (
		cfgErr  *capture.ConfigError
		roiErr  *roi.ValidationError
		authErr *auth.ValidationError
		badReq  *badRequestError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &roiErr), errors.As(err, &authErr), errors.As(err, &badReq):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUsernameTaken):
		status, detail = http.StatusBadRequest, "username already registered"
	case errors.Is(err, pipeline.ErrCaptureDisabled), errors.Is(err, pipeline.ErrBackendUnavailable):
		status, detail = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, detail = http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, auth.ErrExpiredToken):
		status, detail = http.StatusUnauthorized, "token has expired"
	case errors.Is(err, auth.ErrInvalidToken):
		status, detail = http.StatusUnauthorized, "invalid token"
	case errors.Is(err, pipeline.ErrNotRunning):
		status, detail = http.StatusConflict, err.Error()
	case errors.Is(err, errNotFound):
		status, detail = http.StatusNotFound, err.Error()
	}

	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, r, status, detail)
}
