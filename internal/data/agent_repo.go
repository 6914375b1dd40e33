package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/agent-scheduler/internal/data/pgxutil"
	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
)

// AgentRepo provides database operations for agent records.
type AgentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAgentRepo creates a new AgentRepo instance with the given database connection.
func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewAgentRepoWithTimeProvider creates an AgentRepo with a custom TimeProvider (useful for testing).
func NewAgentRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *AgentRepo {
	return &AgentRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const agentColumns = `
  id,
  name,
  kind,
  schedule_expression,
  schedule_enabled,
  next_run_at,
  last_run_at,
  status,
  configuration,
  created_at,
  updated_at
`

// GetAgent loads one agent by id.
func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*model.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	var agent model.AgentRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, id)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectExactlyOneRow(rows, rowToAgent)
		if collectErr != nil {
			return collectErr
		}
		agent = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &agent, nil
}

// ListAgents returns every agent ordered by id.
func (r *AgentRepo) ListAgents(ctx context.Context) ([]model.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY id`
	return r.collectAgents(ctx, query)
}

// ListScheduledEnabled returns every agent with scheduling enabled and a
// non-empty cron expression. The scheduler replays these on startup.
func (r *AgentRepo) ListScheduledEnabled(ctx context.Context) ([]model.AgentRecord, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE schedule_enabled = TRUE
		  AND schedule_expression IS NOT NULL
		  AND schedule_expression <> ''
		ORDER BY id
	`
	return r.collectAgents(ctx, query)
}

// ListByStatus returns agents in the given status ordered by updated_at.
func (r *AgentRepo) ListByStatus(ctx context.Context, status model.AgentStatus) ([]model.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = $1 ORDER BY updated_at`
	return r.collectAgents(ctx, query, string(status))
}

func (r *AgentRepo) collectAgents(ctx context.Context, query string, args ...any) ([]model.AgentRecord, error) {
	var agents []model.AgentRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToAgent)
		if collectErr != nil {
			return collectErr
		}
		agents = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return agents, nil
}

// UpdateSchedule applies a partial update to the agent's scheduling columns.
// ConfigPatch merges into the stored JSONB key by key so configuration keys
// the scheduler does not own survive the write.
func (r *AgentRepo) UpdateSchedule(ctx context.Context, id string, update model.ScheduleUpdate) error {
	if update.IsZero() {
		return nil
	}

	now := r.timeProvider.Now().UTC()
	clauses := []string{"updated_at = $2"}
	args := []any{id, now}

	appendClause := func(column string, value any) {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}

	if update.ScheduleExpression != nil {
		appendClause("schedule_expression", strings.TrimSpace(*update.ScheduleExpression))
	}
	if update.ScheduleEnabled != nil {
		appendClause("schedule_enabled", *update.ScheduleEnabled)
	}
	switch {
	case update.ClearNextRunAt:
		clauses = append(clauses, "next_run_at = NULL")
	case update.NextRunAt != nil:
		appendClause("next_run_at", update.NextRunAt.UTC())
	}
	if update.LastRunAt != nil {
		appendClause("last_run_at", update.LastRunAt.UTC())
	}
	if len(update.ConfigPatch) > 0 {
		patch, err := json.Marshal(update.ConfigPatch)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal configuration patch")
		}
		clauses = append(clauses,
			fmt.Sprintf("configuration = COALESCE(configuration, '{}'::jsonb) || $%d::jsonb", len(args)+1))
		args = append(args, patch)
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("UPDATE agents SET ")
	queryBuilder.WriteString(strings.Join(clauses, ", "))
	queryBuilder.WriteString(" WHERE id = $1")

	res, err := r.DB.ExecContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("agent %s not found", id)
	}
	return nil
}

// SetStatus updates only the agent's lifecycle status.
func (r *AgentRepo) SetStatus(ctx context.Context, id string, status model.AgentStatus) error {
	if !status.Valid() {
		return apperrors.ValidationField("status", fmt.Sprintf("invalid agent status %q", status))
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE agents SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("agent %s not found", id)
	}
	return nil
}

// CreateAgent inserts a new agent record. Used by the admin CLI and dev
// seeding; duplicate ids surface as conflict errors.
func (r *AgentRepo) CreateAgent(ctx context.Context, req model.CreateAgentRequest) (*model.AgentRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	cfg := req.Configuration
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal configuration")
	}

	now := r.timeProvider.Now().UTC()
	var expr *string
	if req.ScheduleExpression != nil {
		trimmed := strings.TrimSpace(*req.ScheduleExpression)
		if trimmed != "" {
			expr = &trimmed
		}
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO agents (
			id, name, kind, schedule_expression, schedule_enabled,
			status, configuration, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		req.ID, req.Name, req.Kind, expr, req.ScheduleEnabled,
		string(model.AgentStatusIdle), cfgJSON, now)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return r.GetAgent(ctx, req.ID)
}

// DeleteAgent removes an agent record. The agent_runs foreign key cascades,
// so run history goes with it.
func (r *AgentRepo) DeleteAgent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return apperrors.NotFoundf("agent %s not found", id)
	}
	return nil
}

// agentRow matches the agents table schema exactly so pgx.RowToStructByName works.
type agentRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	Kind               string         `db:"kind"`
	ScheduleExpression sql.NullString `db:"schedule_expression"`
	ScheduleEnabled    bool           `db:"schedule_enabled"`
	NextRunAt          sql.NullTime   `db:"next_run_at"`
	LastRunAt          sql.NullTime   `db:"last_run_at"`
	Status             string         `db:"status"`
	Configuration      []byte         `db:"configuration"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *agentRow) toDomainAgent() (model.AgentRecord, error) {
	agent := model.AgentRecord{
		ID:              r.ID,
		Name:            r.Name,
		Kind:            r.Kind,
		ScheduleEnabled: r.ScheduleEnabled,
		Status:          model.AgentStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ScheduleExpression.Valid {
		expr := strings.TrimSpace(r.ScheduleExpression.String)
		if expr != "" {
			agent.ScheduleExpression = &expr
		}
	}
	if r.NextRunAt.Valid {
		t := r.NextRunAt.Time
		agent.NextRunAt = &t
	}
	if r.LastRunAt.Valid {
		t := r.LastRunAt.Time
		agent.LastRunAt = &t
	}
	if len(r.Configuration) > 0 {
		cfg := map[string]any{}
		if err := json.Unmarshal(r.Configuration, &cfg); err != nil {
			return model.AgentRecord{}, fmt.Errorf("decode agent configuration: %w", err)
		}
		agent.Configuration = cfg
	}
	return agent, nil
}

// rowToAgent maps a pgx row to model.AgentRecord using pgx v5 generics.
func rowToAgent(row pgx.CollectableRow) (model.AgentRecord, error) {
	dbRow, err := pgx.RowToStructByName[agentRow](row)
	if err != nil {
		return model.AgentRecord{}, fmt.Errorf("scan agent row: %w", err)
	}
	return dbRow.toDomainAgent()
}
