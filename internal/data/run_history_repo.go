package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/agent-scheduler/internal/data/pgxutil"
	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
)

// RunHistoryRepo persists per-dispatch run records for the audit trail.
type RunHistoryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunHistoryRepo creates a new RunHistoryRepo instance.
func NewRunHistoryRepo(db *sql.DB) *RunHistoryRepo {
	return &RunHistoryRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewRunHistoryRepoWithTimeProvider creates a RunHistoryRepo with a custom TimeProvider.
func NewRunHistoryRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *RunHistoryRepo {
	return &RunHistoryRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const agentRunColumns = `
  id,
  agent_id,
  job_id,
  manual,
  started_at,
  finished_at,
  success,
  error,
  duration_ms
`

// RecordStart inserts the row for a dispatch that just began.
func (r *RunHistoryRepo) RecordStart(ctx context.Context, run model.AgentRun) error {
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = r.timeProvider.Now()
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO agent_runs (id, agent_id, job_id, manual, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.AgentID, run.JobID, run.Manual, startedAt.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// RecordOutcome completes the row started by RecordStart.
func (r *RunHistoryRepo) RecordOutcome(ctx context.Context, run model.AgentRun) error {
	finishedAt := r.timeProvider.Now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE agent_runs
		SET finished_at = $2, success = $3, error = $4, duration_ms = $5
		WHERE id = $1`,
		run.ID, finishedAt.UTC(), run.Success, run.Error, run.DurationMS)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("agent run %s not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs for an agent, newest first.
func (r *RunHistoryRepo) ListRuns(ctx context.Context, agentID string, limit int) ([]model.AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + agentRunColumns + `
		FROM agent_runs
		WHERE agent_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	var runs []model.AgentRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, agentID, limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToAgentRun)
		if collectErr != nil {
			return collectErr
		}
		runs = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return runs, nil
}

// PruneOlderThan deletes finished runs older than the cutoff and returns the
// number of rows removed. Unfinished rows are kept for the status reaper.
func (r *RunHistoryRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM agent_runs
		WHERE finished_at IS NOT NULL AND finished_at < $1`,
		cutoff.UTC())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return affected, nil
}

// agentRunRow matches the agent_runs table schema for pgx.RowToStructByName.
type agentRunRow struct {
	ID         string         `db:"id"`
	AgentID    string         `db:"agent_id"`
	JobID      string         `db:"job_id"`
	Manual     bool           `db:"manual"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	Success    sql.NullBool   `db:"success"`
	Error      sql.NullString `db:"error"`
	DurationMS sql.NullInt64  `db:"duration_ms"`
}

func (r *agentRunRow) toDomainRun() model.AgentRun {
	run := model.AgentRun{
		ID:        r.ID,
		AgentID:   r.AgentID,
		JobID:     r.JobID,
		Manual:    r.Manual,
		StartedAt: r.StartedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		run.FinishedAt = &t
	}
	if r.Success.Valid {
		ok := r.Success.Bool
		run.Success = &ok
	}
	if r.Error.Valid {
		run.Error = r.Error.String
	}
	if r.DurationMS.Valid {
		ms := r.DurationMS.Int64
		run.DurationMS = &ms
	}
	return run
}

func rowToAgentRun(row pgx.CollectableRow) (model.AgentRun, error) {
	dbRow, err := pgx.RowToStructByName[agentRunRow](row)
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("scan agent run row: %w", err)
	}
	return dbRow.toDomainRun(), nil
}
