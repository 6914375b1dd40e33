package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/domain/model"
)

const defaultAgentCommandTimeout = time.Minute

type listAgentsOptions struct {
	Status  string
	RawJSON bool
}

type createAgentOptions struct {
	ID       string
	Name     string
	Kind     string
	Cron     string
	Enabled  bool
	Priority string
	Config   string
}

type deleteAgentOptions struct {
	ID  string
	Yes bool
}

func runListAgents(cmdCtx *commandContext, args []string) error {
	opts, err := parseListAgentsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultAgentCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewAgentRepo(db)

		var agents []model.AgentRecord
		if opts.Status != "" {
			var status model.AgentStatus
			if parseErr := status.UnmarshalText([]byte(opts.Status)); parseErr != nil {
				return parseErr
			}
			agents, err = repo.ListByStatus(ctx, status)
		} else {
			agents, err = repo.ListAgents(ctx)
		}
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		if opts.RawJSON {
			return printJSON(os.Stdout, agents)
		}
		return printAgentsTable(os.Stdout, agents)
	})
}

func runCreateAgent(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateAgentFlags(args)
	if err != nil {
		return err
	}

	req := model.CreateAgentRequest{
		ID:              opts.ID,
		Name:            opts.Name,
		Kind:            opts.Kind,
		ScheduleEnabled: opts.Enabled,
	}
	if opts.Cron != "" {
		cron := opts.Cron
		req.ScheduleExpression = &cron
	}
	if opts.Config != "" {
		if unmarshalErr := json.Unmarshal([]byte(opts.Config), &req.Configuration); unmarshalErr != nil {
			return fmt.Errorf("parse --config: %w", unmarshalErr)
		}
	}
	if opts.Priority != "" {
		priority, ok := model.ParsePriority(opts.Priority)
		if !ok {
			return fmt.Errorf("invalid --priority %q", opts.Priority)
		}
		if req.Configuration == nil {
			req.Configuration = map[string]any{}
		}
		req.Configuration[model.ConfigKeyPriority] = priority.String()
	}
	if validateErr := req.Validate(); validateErr != nil {
		return validateErr
	}

	return withDatabase(cmdCtx, defaultAgentCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		agent, createErr := data.NewAgentRepo(db).CreateAgent(ctx, req)
		if createErr != nil {
			return fmt.Errorf("create agent: %w", createErr)
		}

		cmdCtx.Logger.Info("agent created", "agent_id", agent.ID, "kind", agent.Kind)
		return printAgentsTable(os.Stdout, []model.AgentRecord{*agent})
	})
}

func runDeleteAgent(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeleteAgentFlags(args)
	if err != nil {
		return err
	}

	confirmOpts := deleteAgentConfirmOptions{opts: opts}
	if confirmErr := confirmAction(confirmOpts, "delete agent"); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, defaultAgentCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		if deleteErr := data.NewAgentRepo(db).DeleteAgent(ctx, opts.ID); deleteErr != nil {
			return fmt.Errorf("delete agent: %w", deleteErr)
		}
		cmdCtx.Logger.Info("agent deleted", "agent_id", opts.ID)
		return nil
	})
}

type deleteAgentConfirmOptions struct {
	opts deleteAgentOptions
}

func (d deleteAgentConfirmOptions) IsYes() bool { return d.opts.Yes }
func (d deleteAgentConfirmOptions) GetWarning() string {
	return "WARNING: this removes the agent record and cascades to its run history."
}
func (d deleteAgentConfirmOptions) GetTarget() string {
	return fmt.Sprintf("agent %q", d.opts.ID)
}

func parseListAgentsFlags(args []string) (listAgentsOptions, error) {
	fs := flag.NewFlagSet("list-agents", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listAgentsOptions
	fs.StringVar(&opts.Status, "status", "", "Only list agents with this status (idle, running, paused, error, completed)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Emit raw JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return listAgentsOptions{}, err
	}
	return opts, nil
}

func parseCreateAgentFlags(args []string) (createAgentOptions, error) {
	fs := flag.NewFlagSet("create-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts createAgentOptions
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.StringVar(&opts.Name, "name", "", "Human-readable agent name (required)")
	fs.StringVar(&opts.Kind, "kind", "", "Agent kind (required)")
	fs.StringVar(&opts.Cron, "cron", "", "Cron schedule expression")
	fs.BoolVar(&opts.Enabled, "enabled", true, "Whether the schedule is enabled")
	fs.StringVar(&opts.Priority, "priority", "", "Dispatch priority (low, normal, high, critical)")
	fs.StringVar(&opts.Config, "config", "", "Agent configuration as a JSON object")

	if err := fs.Parse(args); err != nil {
		return createAgentOptions{}, err
	}
	return opts, nil
}

func parseDeleteAgentFlags(args []string) (deleteAgentOptions, error) {
	fs := flag.NewFlagSet("delete-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts deleteAgentOptions
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return deleteAgentOptions{}, err
	}
	if opts.ID == "" {
		return deleteAgentOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}

func printAgentsTable(out io.Writer, agents []model.AgentRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "ID\tNAME\tKIND\tSTATUS\tCRON\tENABLED\tNEXT RUN\tLAST RUN\n"); err != nil {
		return err
	}
	for i := range agents {
		a := &agents[i]
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			a.ID,
			a.Name,
			a.Kind,
			a.Status,
			renderOptionalString(a.ScheduleExpression),
			a.ScheduleEnabled,
			renderOptionalTime(a.NextRunAt),
			renderOptionalTime(a.LastRunAt),
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush agent table: %w", err)
	}
	return writef(out, "\nTotal agents: %d\n", len(agents))
}

func renderOptionalString(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func renderOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
