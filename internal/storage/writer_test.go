package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return w
}

func TestSaveJSON_WritesFile(t *testing.T) {
	w := newTestWriter(t)

	path, err := w.SaveJSON(context.Background(), "result.json", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestSaveJSON_AppendsExtension(t *testing.T) {
	w := newTestWriter(t)

	path, err := w.SaveJSON(context.Background(), "result", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "result.json", filepath.Base(path))
}

func TestSaveJSON_DefaultFilename(t *testing.T) {
	w := newTestWriter(t)

	path, err := w.SaveJSON(context.Background(), "", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Regexp(t, `^output_\d{8}_\d{6}\.json$`, filepath.Base(path))
}

func TestSaveJSON_RejectsPathTraversal(t *testing.T) {
	w := newTestWriter(t)

	for _, name := range []string{"../escape.json", "a/b.json", `a\b.json`, "..", "."} {
		_, err := w.SaveJSON(context.Background(), name, json.RawMessage(`{}`))
		assert.Error(t, err, "filename %q should be rejected", name)
	}
}

func TestSaveJSON_RejectsInvalidJSON(t *testing.T) {
	w := newTestWriter(t)

	_, err := w.SaveJSON(context.Background(), "bad.json", json.RawMessage(`not json`))
	assert.Error(t, err)
}

type recordingArchiver struct {
	key  string
	body []byte
	err  error
}

func (a *recordingArchiver) Archive(_ context.Context, key string, body []byte) error {
	a.key = key
	a.body = body
	return a.err
}

func TestSaveJSON_Archives(t *testing.T) {
	w := newTestWriter(t)
	arch := &recordingArchiver{}
	w.SetArchiver(arch)

	_, err := w.SaveJSON(context.Background(), "run.json", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "run.json", arch.key)
	assert.JSONEq(t, `{"a":1}`, string(arch.body))
}

func TestSaveJSON_ArchiveFailureIsNotFatal(t *testing.T) {
	w := newTestWriter(t)
	w.SetArchiver(&recordingArchiver{err: errors.New("bucket gone")})

	path, err := w.SaveJSON(context.Background(), "run.json", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.FileExists(t, path)
}
