package services

import (
	"net/http"

	"kotakwatch/internal/roi"
)

type roiResponse struct {
	ROI *roi.ROI `json:"roi"`
}

func (s *Server) getROI(w http.ResponseWriter, r *http.Request) {
	s.encode(w, r, http.StatusOK, roiResponse{ROI: s.roi.Load()})
}

// saveROI validates and persists the rectangle. A running session picks it
// up on its next ROI poll.
func (s *Server) saveROI(w http.ResponseWriter, r *http.Request) {
	var body roi.ROI
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.roi.Save(body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, roiResponse{ROI: &body})
}

func (s *Server) clearROI(w http.ResponseWriter, r *http.Request) {
	if err := s.roi.Clear(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, okResponse{OK: true})
}

type okResponse struct {
	OK bool `json:"ok"`
}
