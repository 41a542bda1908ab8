package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
)

type triggerScanRequest struct {
	DateFrom *time.Time `json:"date_from"`
	DateTo   *time.Time `json:"date_to"`
	Run      bool       `json:"run"`
}

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	var req triggerScanRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scan, err := s.deps.Scans.StartScan(r.Context(), chi.URLParam(r, "project_id"), orchestrator.StartOptions{
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	kicked := false
	if req.Run && s.deps.Background != nil {
		kicked = s.deps.Background.Kick()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scan": scan, "background_started": kicked})
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scan_id")
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "run loop not configured")
		return
	}
	if _, err := s.deps.Scans.Status(r.Context(), scanID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	loop := s.deps.Runner.Run(r.Context())
	status, err := s.deps.Scans.Status(r.Context(), scanID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loop": loop, "status": status})
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.deps.Scans.StopScan(r.Context(), chi.URLParam(r, "scan_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": scan})
}

func (s *Server) resetScan(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Scans.ResetStuckScan(r.Context(), chi.URLParam(r, "scan_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) scanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Scans.Status(r.Context(), chi.URLParam(r, "scan_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// processOneJob is the single-step endpoint used by client-side polling
// loops. It always answers 200; the outcome is in the body.
func (s *Server) processOneJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Step == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Step.ProcessOneJob(r.Context()))
}
