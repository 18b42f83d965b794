package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hedgeworks/hedged/internal/domain"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestData json.RawMessage `json:"request_data,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	run, err := s.runRepo.Create(chi.URLParam(r, "flow_id"), body.RequestData)
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runRepo.List(chi.URLParam(r, "flow_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runRepo.Get(chi.URLParam(r, "flow_id"), chi.URLParam(r, "run_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleUpdateRunStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status       domain.RunStatus `json:"status"`
		Results      json.RawMessage  `json:"results,omitempty"`
		ErrorMessage string           `json:"error_message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	switch body.Status {
	case domain.RunIdle, domain.RunInProgress, domain.RunComplete, domain.RunError:
	default:
		respondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	run, err := s.runRepo.UpdateStatus(chi.URLParam(r, "flow_id"), chi.URLParam(r, "run_id"),
		body.Status, body.Results, body.ErrorMessage)
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runRepo.Delete(chi.URLParam(r, "flow_id"), chi.URLParam(r, "run_id")); err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "run deleted"})
}

func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runRepo.Active(chi.URLParam(r, "flow_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runRepo.Latest(chi.URLParam(r, "flow_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.runRepo.Count(chi.URLParam(r, "flow_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}
