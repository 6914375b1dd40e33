package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/agent-scheduler/internal/domain/model"
)

const defaultAPITimeout = 30 * time.Second

// apiClient is a thin HTTP client for the scheduler control API. Commands use
// it instead of touching scheduler state directly so they observe the same
// view a running service exposes.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

type apiOptions struct {
	BaseURL string
	Token   string
}

// registerAPIFlags adds the shared control API flags to a command flag set.
func registerAPIFlags(fs *flag.FlagSet, opts *apiOptions) {
	fs.StringVar(&opts.BaseURL, "api", "", "Control API base URL (default derived from HTTP_ADDR)")
	fs.StringVar(&opts.Token, "token", "", "Bearer token (default AUTH_TOKEN from config)")
}

func newAPIClient(cmdCtx *commandContext, opts apiOptions) *apiClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = apiBaseURL(cmdCtx.Config.HTTP.Addr)
	}
	token := opts.Token
	if token == "" {
		token = cmdCtx.Config.Auth.Token
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultAPITimeout},
	}
}

// apiBaseURL turns a listen address like ":8080" into a dialable URL.
func apiBaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("control api: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("control api: status %d", e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	}
	return apiErr
}

type agentIDOptions struct {
	API     apiOptions
	ID      string
	RawJSON bool
}

func parseAgentIDFlags(name string, args []string) (agentIDOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts agentIDOptions
	registerAPIFlags(fs, &opts.API)
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Emit raw JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return agentIDOptions{}, err
	}
	if opts.ID == "" {
		return agentIDOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func runStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts apiOptions
	var rawJSON bool
	registerAPIFlags(fs, &opts)
	fs.BoolVar(&rawJSON, "json", false, "Emit raw JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var stats model.SchedulerStats
	client := newAPIClient(cmdCtx, opts)
	if err := client.do(cmdCtx.Ctx, http.MethodGet, "/api/agents/schedule/status", nil, &stats); err != nil {
		return err
	}

	if rawJSON {
		return printJSON(os.Stdout, stats)
	}
	return printStats(os.Stdout, stats)
}

func runTasks(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts apiOptions
	var rawJSON bool
	registerAPIFlags(fs, &opts)
	fs.BoolVar(&rawJSON, "json", false, "Emit raw JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var payload struct {
		Tasks []model.TaskDetails `json:"tasks"`
		Count int                 `json:"count"`
	}
	client := newAPIClient(cmdCtx, opts)
	if err := client.do(cmdCtx.Ctx, http.MethodGet, "/api/agents/schedule/tasks", nil, &payload); err != nil {
		return err
	}

	if rawJSON {
		return printJSON(os.Stdout, payload.Tasks)
	}
	return printTasksTable(os.Stdout, payload.Tasks)
}

func runTask(cmdCtx *commandContext, args []string) error {
	opts, err := parseAgentIDFlags("task", args)
	if err != nil {
		return err
	}

	client := newAPIClient(cmdCtx, opts.API)

	// Task details and recent runs come from independent endpoints; fetch
	// both at once. A deployment without run history 404s the runs endpoint,
	// which is not an error here.
	var details model.TaskDetails
	var runsPayload struct {
		Runs []model.AgentRun `json:"runs"`
	}

	group, groupCtx := errgroup.WithContext(cmdCtx.Ctx)
	group.Go(func() error {
		return client.do(groupCtx, http.MethodGet, "/api/agents/"+opts.ID+"/schedule", nil, &details)
	})
	group.Go(func() error {
		runsErr := client.do(groupCtx, http.MethodGet, "/api/agents/"+opts.ID+"/runs?limit=5", nil, &runsPayload)
		var apiErr *apiError
		if errors.As(runsErr, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return runsErr
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if opts.RawJSON {
		return printJSON(os.Stdout, map[string]any{"task": details, "recent_runs": runsPayload.Runs})
	}
	if err := printTasksTable(os.Stdout, []model.TaskDetails{details}); err != nil {
		return err
	}
	if len(runsPayload.Runs) == 0 {
		return nil
	}
	if err := writef(os.Stdout, "\nRecent runs:\n"); err != nil {
		return err
	}
	return printRunsTable(os.Stdout, runsPayload.Runs)
}

func runPaused(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("paused", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts apiOptions
	registerAPIFlags(fs, &opts)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var payload struct {
		Paused []model.PausedJob `json:"paused"`
		Count  int               `json:"count"`
	}
	client := newAPIClient(cmdCtx, opts)
	if err := client.do(cmdCtx.Ctx, http.MethodGet, "/api/agents/schedule/paused", nil, &payload); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "AGENT\tJOB\tPAUSED AT\n"); err != nil {
		return err
	}
	for _, job := range payload.Paused {
		if err := writef(w, "%s\t%s\t%s\n", job.AgentID, job.JobID, renderOptionalTime(job.PausedAt)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush paused table: %w", err)
	}
	return writef(os.Stdout, "\nTotal paused: %d\n", payload.Count)
}

type scheduleCommandOptions struct {
	API      apiOptions
	ID       string
	Cron     string
	Priority string
	JobID    string
}

func runSchedule(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts scheduleCommandOptions
	registerAPIFlags(fs, &opts.API)
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.StringVar(&opts.Cron, "cron", "", "Override the stored cron expression")
	fs.StringVar(&opts.Priority, "priority", "", "Override the dispatch priority (low, normal, high, critical)")
	fs.StringVar(&opts.JobID, "job-id", "", "Explicit job identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.ID == "" {
		return errors.New("--id is required")
	}

	body := map[string]any{}
	if opts.Cron != "" {
		body["cron"] = opts.Cron
	}
	if opts.Priority != "" {
		if _, ok := model.ParsePriority(opts.Priority); !ok {
			return fmt.Errorf("invalid --priority %q", opts.Priority)
		}
		body["priority"] = opts.Priority
	}
	if opts.JobID != "" {
		body["job_id"] = opts.JobID
	}

	var details model.TaskDetails
	client := newAPIClient(cmdCtx, opts.API)
	if err := client.do(cmdCtx.Ctx, http.MethodPost, "/api/agents/"+opts.ID+"/schedule", body, &details); err != nil {
		return err
	}

	cmdCtx.Logger.Info("agent scheduled", "agent_id", details.AgentID, "job_id", details.JobID)
	return printTasksTable(os.Stdout, []model.TaskDetails{details})
}

func runUnschedule(cmdCtx *commandContext, args []string) error {
	opts, err := parseAgentIDFlags("unschedule", args)
	if err != nil {
		return err
	}

	client := newAPIClient(cmdCtx, opts.API)
	if err := client.do(cmdCtx.Ctx, http.MethodDelete, "/api/agents/"+opts.ID+"/schedule", nil, nil); err != nil {
		return err
	}

	cmdCtx.Logger.Info("agent unscheduled", "agent_id", opts.ID)
	return nil
}

func runRunNow(cmdCtx *commandContext, args []string) error {
	opts, err := parseAgentIDFlags("run", args)
	if err != nil {
		return err
	}

	var payload struct {
		AgentID string `json:"agent_id"`
		JobID   string `json:"job_id"`
	}
	client := newAPIClient(cmdCtx, opts.API)
	if err := client.do(cmdCtx.Ctx, http.MethodPost, "/api/agents/"+opts.ID+"/run", nil, &payload); err != nil {
		return err
	}

	cmdCtx.Logger.Info("run accepted", "agent_id", payload.AgentID, "job_id", payload.JobID)
	return writef(os.Stdout, "Run accepted: agent %s, job %s\n", payload.AgentID, payload.JobID)
}

type pauseCommandOptions struct {
	API   apiOptions
	ID    string
	JobID string
}

func parsePauseFlags(name string, args []string) (pauseCommandOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts pauseCommandOptions
	registerAPIFlags(fs, &opts.API)
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.StringVar(&opts.JobID, "job-id", "", "Job identifier (required)")

	if err := fs.Parse(args); err != nil {
		return pauseCommandOptions{}, err
	}
	if opts.ID == "" || opts.JobID == "" {
		return pauseCommandOptions{}, errors.New("--id and --job-id are required")
	}
	return opts, nil
}

func runPauseJob(cmdCtx *commandContext, args []string) error {
	return togglePause(cmdCtx, args, "pause")
}

func runResumeJob(cmdCtx *commandContext, args []string) error {
	return togglePause(cmdCtx, args, "resume")
}

func togglePause(cmdCtx *commandContext, args []string, verb string) error {
	opts, err := parsePauseFlags(verb, args)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/agents/%s/schedule/%s/%s", opts.ID, opts.JobID, verb)

	var details model.TaskDetails
	client := newAPIClient(cmdCtx, opts.API)
	if err := client.do(cmdCtx.Ctx, http.MethodPatch, path, nil, &details); err != nil {
		return err
	}

	cmdCtx.Logger.Info("job state changed", "agent_id", opts.ID, "job_id", opts.JobID, "action", verb)
	return printTasksTable(os.Stdout, []model.TaskDetails{details})
}

func runRunHistory(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts agentIDOptions
	var limit int
	registerAPIFlags(fs, &opts.API)
	fs.StringVar(&opts.ID, "id", "", "Agent identifier (required)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Emit raw JSON instead of a table")
	fs.IntVar(&limit, "limit", 0, "Maximum number of runs to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.ID == "" {
		return errors.New("--id is required")
	}

	path := "/api/agents/" + opts.ID + "/runs"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var payload struct {
		Runs  []model.AgentRun `json:"runs"`
		Count int              `json:"count"`
	}
	client := newAPIClient(cmdCtx, opts.API)
	if err := client.do(cmdCtx.Ctx, http.MethodGet, path, nil, &payload); err != nil {
		return err
	}

	if opts.RawJSON {
		return printJSON(os.Stdout, payload.Runs)
	}
	return printRunsTable(os.Stdout, payload.Runs)
}

func printStats(out io.Writer, stats model.SchedulerStats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"Running", stats.IsRunning},
		{"Scheduled Tasks", stats.ScheduledTasksCount},
		{"Running Agents", stats.RunningAgentsCount},
		{"Queued Tasks", stats.QueuedTasksCount},
		{"Max Concurrent", stats.MaxConcurrentAgents},
		{"Paused Jobs", stats.PausedJobsCount},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%v\n", row.label, row.value); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}

func printTasksTable(out io.Writer, tasks []model.TaskDetails) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "AGENT\tJOB\tPRIORITY\tNEXT RUN\tSTATE\tRETRIES\tLAST ERROR\n"); err != nil {
		return err
	}
	for i := range tasks {
		task := &tasks[i]
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			task.AgentID,
			task.JobID,
			task.Priority,
			task.NextRunTime.UTC().Format(time.RFC3339),
			renderTaskState(task),
			task.RetryCount,
			task.LastError,
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush task table: %w", err)
	}
	return writef(out, "\nTotal tasks: %d\n", len(tasks))
}

func renderTaskState(task *model.TaskDetails) string {
	switch {
	case task.IsRunning:
		return "running"
	case task.IsPaused:
		return "paused"
	case task.BackoffUntil != nil:
		return "backoff"
	case task.IsManualRun:
		return "manual"
	default:
		return "scheduled"
	}
}

func printRunsTable(out io.Writer, runs []model.AgentRun) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "JOB\tSTARTED\tFINISHED\tOUTCOME\tDURATION\tERROR\n"); err != nil {
		return err
	}
	for i := range runs {
		run := &runs[i]
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.JobID,
			run.StartedAt.UTC().Format(time.RFC3339),
			renderOptionalTime(run.FinishedAt),
			renderRunOutcome(run),
			renderRunDuration(run),
			run.Error,
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush run table: %w", err)
	}
	return writef(out, "\nTotal runs: %d\n", len(runs))
}

func renderRunOutcome(run *model.AgentRun) string {
	if run.Success == nil {
		return "in-flight"
	}
	if *run.Success {
		return "success"
	}
	return "failed"
}

func renderRunDuration(run *model.AgentRun) string {
	if run.DurationMS == nil {
		return "-"
	}
	return (time.Duration(*run.DurationMS) * time.Millisecond).String()
}
