package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString_Pragmas(t *testing.T) {
	connStr := buildConnectionString("/tmp/flows.db")

	assert.True(t, strings.HasPrefix(connStr, "/tmp/flows.db?"))
	for _, pragma := range []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
	} {
		assert.Contains(t, connStr, pragma)
	}
}

func TestBuildConnectionString_FileURIKeepsParams(t *testing.T) {
	connStr := buildConnectionString("file:test?mode=memory&cache=shared")

	// The existing query string must survive; PRAGMAs are appended with &.
	assert.True(t, strings.HasPrefix(connStr, "file:test?mode=memory&cache=shared&"))
	assert.Equal(t, 1, strings.Count(connStr, "?"))
	assert.Contains(t, connStr, "_pragma=busy_timeout(5000)")
}

func TestConcurrentWritersDoNotFailBusy(t *testing.T) {
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "busy.db"),
		Name: "flows",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	// Writers racing with the checkpoint must wait out the lock instead of
	// surfacing SQLITE_BUSY.
	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := db.Exec("INSERT INTO t (v) VALUES ('x')")
			done <- err
		}()
		go func() {
			done <- db.WALCheckpoint("PASSIVE")
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}
}
