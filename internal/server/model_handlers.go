package server

import (
	"net/http"

	"github.com/hedgeworks/hedged/internal/llm"
)

// handleLanguageModels lists the supported cloud models.
func (s *Server) handleLanguageModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models":  llm.CloudModels(),
		"grouped": llm.GroupedByProvider(),
	})
}

// handleProviders lists the known provider names.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"providers": llm.ProviderNames()})
}
