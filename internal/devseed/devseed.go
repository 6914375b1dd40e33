// Package devseed provisions demo agents for local development.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB     *sql.DB
	agents *data.AgentRepo
}

// NewServices constructs the repositories used for seeding from the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:     db,
		agents: data.NewAgentRepo(db),
	}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent; agents that already exist are left untouched.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	for _, req := range defaultAgents() {
		created, err := createAgent(ctx, svcs.agents, req)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create agent", "agent_id", req.ID, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "agent already exists"
			if created {
				msg = "created agent"
			}
			logger.InfoContext(ctx, msg, "agent_id", req.ID, "kind", req.Kind)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func createAgent(ctx context.Context, repo *data.AgentRepo, req model.CreateAgentRequest) (bool, error) {
	if _, err := repo.CreateAgent(ctx, req); err != nil {
		if apperrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func defaultAgents() []model.CreateAgentRequest {
	ptr := func(s string) *string { return &s }

	return []model.CreateAgentRequest{
		{
			ID:                 "support-triage",
			Name:               "Support Ticket Triage",
			Kind:               model.AgentKindCustomerSupport,
			ScheduleExpression: ptr("*/5 * * * *"),
			ScheduleEnabled:    true,
			Configuration: map[string]any{
				model.ConfigKeyPriority: model.PriorityHigh.String(),
				"queue":                 "inbound-tickets",
			},
		},
		{
			ID:                 "perf-tuner",
			Name:               "Performance Optimizer",
			Kind:               model.AgentKindPerformanceOptimizer,
			ScheduleExpression: ptr("0 * * * *"),
			ScheduleEnabled:    true,
			Configuration: map[string]any{
				"target_latency_ms": 250,
			},
		},
		{
			ID:                 "usage-analyzer",
			Name:               "Usage Data Analyzer",
			Kind:               model.AgentKindDataAnalyzer,
			ScheduleExpression: ptr("15 */2 * * *"),
			ScheduleEnabled:    true,
			Configuration: map[string]any{
				model.ConfigKeyPriority: model.PriorityLow.String(),
				"window_hours":          2,
			},
		},
		{
			ID:                 "weekly-report",
			Name:               "Weekly Report Generator",
			Kind:               model.AgentKindReportGenerator,
			ScheduleExpression: ptr("0 8 * * MON"),
			ScheduleEnabled:    true,
			Configuration: map[string]any{
				"recipients": []any{"ops@example.com"},
			},
		},
		{
			ID:              "on-demand-export",
			Name:            "On-Demand Data Export",
			Kind:            model.AgentKindDataAnalyzer,
			ScheduleEnabled: false,
			Configuration: map[string]any{
				model.ConfigKeyPriority: model.PriorityCritical.String(),
			},
		},
	}
}
