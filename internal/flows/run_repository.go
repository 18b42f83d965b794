package flows

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/database"
	"github.com/hedgeworks/hedged/internal/domain"
)

// RunRepository manages flow execution records and their status lifecycle.
type RunRepository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewRunRepository(db *database.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("component", "run_repository").Logger(),
	}
}

const runColumns = "id, flow_id, run_number, status, created_at, started_at, completed_at, request_data, results, error_message"

// Create inserts a new IDLE run. The run number is allocated inside the
// insert transaction so concurrent creates never collide.
func (r *RunRepository) Create(flowID string, requestData json.RawMessage) (*domain.FlowRun, error) {
	run := &domain.FlowRun{
		ID:          uuid.NewString(),
		FlowID:      flowID,
		Status:      domain.RunIdle,
		CreatedAt:   time.Now().UTC(),
		RequestData: requestData,
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		// Reject runs against unknown flows up front; SQLite foreign keys
		// alone would surface a less useful error.
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM flows WHERE id = ?`, flowID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(run_number), 0) + 1 FROM flow_runs WHERE flow_id = ?`,
			flowID).Scan(&run.RunNumber); err != nil {
			return err
		}

		_, err := tx.Exec(`
			INSERT INTO flow_runs (id, flow_id, run_number, status, created_at, request_data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.FlowID, run.RunNumber, string(run.Status),
			run.CreatedAt.Format(timeLayout), rawOrNull(run.RequestData))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("creating flow run: %w", err)
	}

	r.log.Info().Str("flow_id", flowID).Int("run_number", run.RunNumber).Msg("Flow run created")
	return run, nil
}

// Get returns one run scoped by flow.
func (r *RunRepository) Get(flowID, runID string) (*domain.FlowRun, error) {
	row := r.db.QueryRow(
		`SELECT `+runColumns+` FROM flow_runs WHERE flow_id = ? AND id = ?`, flowID, runID)
	return scanRun(row)
}

// List returns all runs for a flow, newest first.
func (r *RunRepository) List(flowID string) ([]domain.FlowRun, error) {
	return r.queryRuns(
		`SELECT `+runColumns+` FROM flow_runs WHERE flow_id = ? ORDER BY run_number DESC`, flowID)
}

// UpdateStatus drives the run FSM. IN_PROGRESS stamps started_at once;
// COMPLETE and ERROR stamp completed_at once. Terminal timestamps are never
// rewritten.
func (r *RunRepository) UpdateStatus(flowID, runID string, status domain.RunStatus, results json.RawMessage, errorMessage string) (*domain.FlowRun, error) {
	var updated *domain.FlowRun
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT `+runColumns+` FROM flow_runs WHERE flow_id = ? AND id = ?`, flowID, runID)
		run, err := scanRun(row)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if status == domain.RunInProgress && run.StartedAt == nil {
			run.StartedAt = &now
		}
		if status.Terminal() && run.CompletedAt == nil {
			run.CompletedAt = &now
		}
		run.Status = status
		if len(results) > 0 {
			run.Results = results
		}
		if errorMessage != "" {
			run.ErrorMessage = errorMessage
		}

		_, err = tx.Exec(`
			UPDATE flow_runs
			SET status = ?, started_at = ?, completed_at = ?, results = ?, error_message = ?
			WHERE flow_id = ? AND id = ?`,
			string(run.Status), timeOrNull(run.StartedAt), timeOrNull(run.CompletedAt),
			rawOrNull(run.Results), nullIfEmpty(run.ErrorMessage), flowID, runID)
		if err != nil {
			return err
		}
		updated = run
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating flow run: %w", err)
	}
	return updated, nil
}

// Delete removes one run.
func (r *RunRepository) Delete(flowID, runID string) error {
	res, err := r.db.Exec(`DELETE FROM flow_runs WHERE flow_id = ? AND id = ?`, flowID, runID)
	if err != nil {
		return fmt.Errorf("deleting flow run: %w", err)
	}
	return requireAffected(res)
}

// Active returns the IN_PROGRESS run for a flow, or ErrNotFound.
func (r *RunRepository) Active(flowID string) (*domain.FlowRun, error) {
	row := r.db.QueryRow(
		`SELECT `+runColumns+` FROM flow_runs
		 WHERE flow_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		flowID, string(domain.RunInProgress))
	return scanRun(row)
}

// Latest returns the most recently created run for a flow.
func (r *RunRepository) Latest(flowID string) (*domain.FlowRun, error) {
	row := r.db.QueryRow(
		`SELECT `+runColumns+` FROM flow_runs
		 WHERE flow_id = ? ORDER BY created_at DESC, run_number DESC LIMIT 1`, flowID)
	return scanRun(row)
}

// Count returns the number of runs for a flow.
func (r *RunRepository) Count(flowID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM flow_runs WHERE flow_id = ?`, flowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting flow runs: %w", err)
	}
	return n, nil
}

func (r *RunRepository) queryRuns(query string, args ...any) ([]domain.FlowRun, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying flow runs: %w", err)
	}
	defer rows.Close()

	var out []domain.FlowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*domain.FlowRun, error) {
	var run domain.FlowRun
	var status, createdAt string
	var startedAt, completedAt, requestData, results, errorMessage sql.NullString

	err := row.Scan(&run.ID, &run.FlowID, &run.RunNumber, &status, &createdAt,
		&startedAt, &completedAt, &requestData, &results, &errorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flow run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if requestData.Valid {
		run.RequestData = json.RawMessage(requestData.String)
	}
	if results.Valid {
		run.Results = json.RawMessage(results.String)
	}
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}

func timeOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
