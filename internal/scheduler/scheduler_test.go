package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeworks/hedged/internal/database"
	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/marketdata"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunsJobOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())

	failing := &countingJob{err: fmt.Errorf("boom")}
	assert.Error(t, s.RunNow(failing))
}

func TestCacheSnapshotJob(t *testing.T) {
	cache := marketdata.NewCache()
	cache.AddPrices("AAPL", []domain.Price{{Time: "2024-01-02", Close: 100}})

	path := filepath.Join(t.TempDir(), "cache.msgpack")
	job := NewCacheSnapshotJob(cache, path, zerolog.Nop())
	assert.Equal(t, "cache-snapshot", job.Name())
	require.NoError(t, job.Run())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	restored := marketdata.NewCache()
	require.NoError(t, restored.LoadSnapshot(path))
	assert.Len(t, restored.Prices("AAPL"), 1)
}

func TestWALCheckpointJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "flows.db"),
		Name: "flows",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	job := NewWALCheckpointJob(db, zerolog.Nop())
	assert.Equal(t, "wal-checkpoint", job.Name())
	assert.NoError(t, job.Run())
}
