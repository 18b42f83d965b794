package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hedgeworks/hedged/internal/ollama"
)

// downloadPollInterval paces the download progress stream.
const downloadPollInterval = 500 * time.Millisecond

func (s *Server) handleOllamaStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ollama.CheckStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleOllamaStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ollama.StartServer(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "server started"})
}

func (s *Server) handleOllamaStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ollama.StopServer(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "server stopped"})
}

// handleOllamaDownload starts a model download in the background. Progress
// is observed via the progress endpoints, not this response.
func (s *Server) handleOllamaDownload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ModelName string `json:"model_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ModelName == "" {
		respondError(w, http.StatusBadRequest, "model_name is required")
		return
	}

	// Detached context: the download outlives this request.
	updates, err := s.ollama.DownloadModel(context.WithoutCancel(r.Context()), body.ModelName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() {
		for range updates {
		}
	}()

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("download of %s started", body.ModelName),
	})
}

// handleOllamaDownloadStream streams the active download table over SSE
// until all downloads reach terminal state or the client disconnects.
func (s *Server) handleOllamaDownloadStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if s.metrics != nil {
		s.metrics.SSEClients.Inc()
		defer s.metrics.SSEClients.Dec()
	}

	done := r.Context().Done()
	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			downloads := s.ollama.ActiveDownloads()
			payload, err := json.Marshal(map[string]any{"downloads": downloads})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()

			if len(downloads) == 0 {
				return
			}
			allTerminal := true
			for _, d := range downloads {
				if !d.Status.Terminal() {
					allTerminal = false
					break
				}
			}
			if allTerminal {
				return
			}
		}
	}
}

func (s *Server) handleOllamaDownloadProgress(w http.ResponseWriter, r *http.Request) {
	model := modelParam(r)
	progress, ok := s.ollama.DownloadProgressOf(model)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no download in progress for %s", model))
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleOllamaActiveDownloads(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"downloads": s.ollama.ActiveDownloads()})
}

func (s *Server) handleOllamaCancelDownload(w http.ResponseWriter, r *http.Request) {
	model := modelParam(r)
	if err := s.ollama.CancelDownload(model); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("download of %s cancelled", model)})
}

func (s *Server) handleOllamaDeleteModel(w http.ResponseWriter, r *http.Request) {
	model := modelParam(r)
	if err := s.ollama.DeleteModel(r.Context(), model); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("model %s deleted", model)})
}

func (s *Server) handleOllamaRecommended(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models": ollama.RecommendedModels(s.recommendedManifest),
	})
}

// modelParam extracts the model name path parameter. Model names contain
// colons and may arrive percent-encoded.
func modelParam(r *http.Request) string {
	raw := chi.URLParam(r, "model")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
