package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/database"
	"github.com/hedgeworks/hedged/internal/marketdata"
)

// CacheSnapshotJob persists the market-data cache to disk so a restart does
// not start cold.
type CacheSnapshotJob struct {
	cache *marketdata.Cache
	path  string
	log   zerolog.Logger
}

func NewCacheSnapshotJob(cache *marketdata.Cache, path string, log zerolog.Logger) *CacheSnapshotJob {
	return &CacheSnapshotJob{
		cache: cache,
		path:  path,
		log:   log.With().Str("job", "cache-snapshot").Logger(),
	}
}

func (j *CacheSnapshotJob) Name() string { return "cache-snapshot" }

func (j *CacheSnapshotJob) Run() error {
	if err := j.cache.SaveSnapshot(j.path); err != nil {
		return fmt.Errorf("saving cache snapshot: %w", err)
	}
	j.log.Debug().Str("path", j.path).Msg("Cache snapshot saved")
	return nil
}

// WALCheckpointJob truncates the SQLite write-ahead log so it cannot grow
// unbounded under sustained writes.
type WALCheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

func NewWALCheckpointJob(db *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		db:  db,
		log: log.With().Str("job", "wal-checkpoint").Logger(),
	}
}

func (j *WALCheckpointJob) Name() string { return "wal-checkpoint" }

func (j *WALCheckpointJob) Run() error {
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("checkpointing %s: %w", j.db.Name(), err)
	}
	j.log.Debug().Str("database", j.db.Name()).Msg("WAL checkpointed")
	return nil
}
