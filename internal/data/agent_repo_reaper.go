package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/target/agent-scheduler/internal/data/pgxutil"
)

// Advisory lock namespace for the status reaper. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps instances from racing.
const (
	advisoryLockReaperMajor       = 1000
	advisoryLockReaperStaleStatus = 1
)

// ResetStaleRunning marks agents that have been in running status since
// before cutoff as errored. A crashed process leaves rows behind in running;
// this reconciles them so the status column stays trustworthy.
// Returns the number of agents reset.
func (r *AgentRepo) ResetStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperStaleStatus,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			now := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
				UPDATE agents
				SET status = 'error',
					updated_at = $1
				WHERE status = 'running'
				  AND last_run_at IS NOT NULL
				  AND last_run_at < $2
			`, now.UTC(), cutoff.UTC())
			if err != nil {
				return fmt.Errorf("reset stale running agents: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
