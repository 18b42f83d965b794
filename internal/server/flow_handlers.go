package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/flows"
)

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var flow domain.Flow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		respondError(w, http.StatusBadRequest, "invalid flow: "+err.Error())
		return
	}
	if flow.Name == "" {
		respondError(w, http.StatusBadRequest, "flow name is required")
		return
	}
	if err := s.flowRepo.Create(&flow); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, flow)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	list, err := s.flowRepo.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleSearchFlows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	list, err := s.flowRepo.Search(name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.flowRepo.Get(chi.URLParam(r, "flow_id"))
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var flow domain.Flow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		respondError(w, http.StatusBadRequest, "invalid flow: "+err.Error())
		return
	}
	flow.ID = chi.URLParam(r, "flow_id")
	if err := s.flowRepo.Update(&flow); err != nil {
		s.respondRepoError(w, err)
		return
	}
	updated, err := s.flowRepo.Get(flow.ID)
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.flowRepo.Delete(chi.URLParam(r, "flow_id")); err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "flow deleted"})
}

func (s *Server) handleDuplicateFlow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	// An empty body is fine; the copy gets a default name.
	_ = json.NewDecoder(r.Body).Decode(&body)

	copy, err := s.flowRepo.Duplicate(chi.URLParam(r, "flow_id"), body.Name)
	if err != nil {
		s.respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, copy)
}

func (s *Server) respondRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, flows.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
