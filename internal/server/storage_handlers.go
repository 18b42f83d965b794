package server

import (
	"encoding/json"
	"net/http"
)

// handleSaveJSON persists a client-supplied JSON artifact to the outputs
// directory (and the archive bucket when configured).
func (s *Server) handleSaveJSON(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage is not configured")
		return
	}

	var body struct {
		Filename string          `json:"filename,omitempty"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(body.Data) == 0 {
		respondError(w, http.StatusBadRequest, "data is required")
		return
	}

	path, err := s.storage.SaveJSON(r.Context(), body.Filename, body.Data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "saved", "path": path})
}
