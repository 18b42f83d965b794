// Package storage persists JSON artifacts produced by runs and, when
// configured, mirrors them to an S3 bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Archiver mirrors a saved artifact to remote storage.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// Writer saves JSON artifacts under a single outputs directory. Filenames
// are confined to that directory; anything resembling a path is rejected.
type Writer struct {
	dir      string
	archiver Archiver
	log      zerolog.Logger
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outputs directory: %w", err)
	}
	return &Writer{
		dir: dir,
		log: log.With().Str("component", "storage").Logger(),
	}, nil
}

// SetArchiver enables remote mirroring of saved artifacts.
func (w *Writer) SetArchiver(a Archiver) {
	w.archiver = a
}

// SaveJSON writes data to <dir>/<filename> and returns the absolute path.
// An empty filename gets a timestamped default; a missing .json extension
// is appended. Archiving failures are logged, never surfaced: the local
// write is the source of truth.
func (w *Writer) SaveJSON(ctx context.Context, filename string, data json.RawMessage) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("payload is not valid JSON")
	}

	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	w.log.Info().Str("file", name).Int("bytes", len(data)).Msg("Artifact saved")

	if w.archiver != nil {
		if err := w.archiver.Archive(ctx, name, data); err != nil {
			w.log.Warn().Err(err).Str("file", name).Msg("Archiving artifact failed")
		}
	}
	return path, nil
}

// sanitizeFilename confines the name to a single path element under the
// outputs directory.
func sanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return fmt.Sprintf("output_%s.json", time.Now().UTC().Format("20060102_150405")), nil
	}
	if strings.ContainsAny(filename, `/\`) || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	if filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	if !strings.HasSuffix(filename, ".json") {
		filename += ".json"
	}
	return filename, nil
}
