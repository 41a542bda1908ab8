package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type scopeRequest struct {
	ScanID string `json:"scan_id"`
}

type blacklistRequest struct {
	Name string `json:"name"`
}

func (s *Server) runContextFilter(w http.ResponseWriter, r *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "context filter not configured")
		return
	}
	var req scopeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScanID == "" {
		req.ScanID = r.URL.Query().Get("scan_id")
	}
	res, err := s.deps.Filter.RunBatch(r.Context(), chi.URLParam(r, "project_id"), req.ScanID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) resetContextFilter(w http.ResponseWriter, r *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "context filter not configured")
		return
	}
	var req scopeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.deps.Filter.Reset(r.Context(), chi.URLParam(r, "project_id"), req.ScanID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) purgeOffTopic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "context filter not configured")
		return
	}
	n, err := s.deps.Filter.PurgeOffTopic(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) normalizeTags(w http.ResponseWriter, r *http.Request) {
	if s.deps.Normalizer == nil {
		writeError(w, http.StatusServiceUnavailable, "tag normalizer not configured")
		return
	}
	res, err := s.deps.Normalizer.Run(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) blacklistTag(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklister == nil {
		writeError(w, http.StatusServiceUnavailable, "blacklist not configured")
		return
	}
	var req blacklistRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Blacklister.BlacklistTag(r.Context(), chi.URLParam(r, "project_id"), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) regenerateBriefing(w http.ResponseWriter, r *http.Request) {
	if s.deps.Briefer == nil {
		writeError(w, http.StatusServiceUnavailable, "briefing not configured")
		return
	}
	text, err := s.deps.Briefer.Regenerate(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// A nil briefing means fewer than two completed scans exist.
	writeJSON(w, http.StatusOK, map[string]any{"briefing": text})
}
