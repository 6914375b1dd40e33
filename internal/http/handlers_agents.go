package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/service"
)

// SchedulerControl is the scheduler surface the control API binds to.
// *service.SchedulerService satisfies it; tests substitute a fake.
type SchedulerControl interface {
	Schedule(ctx context.Context, req service.ScheduleRequest) (model.TaskDetails, error)
	Unschedule(ctx context.Context, agentID string) error
	RunNow(ctx context.Context, agentID string) (string, error)
	PauseJob(ctx context.Context, agentID, jobID string) (model.TaskDetails, error)
	ResumeJob(ctx context.Context, agentID, jobID string) (model.TaskDetails, error)
	GetStats(ctx context.Context) model.SchedulerStats
	GetTaskDetails(ctx context.Context, agentID string) (model.TaskDetails, error)
	ListTasks(ctx context.Context) []model.TaskDetails
	GetPausedJobs(ctx context.Context) []model.PausedJob
}

// RunHistoryReader reads the dispatch audit trail. Optional; a nil reader
// turns the runs endpoint into a 404.
type RunHistoryReader interface {
	ListRuns(ctx context.Context, agentID string, limit int) ([]model.AgentRun, error)
}

// AgentHandlers provides HTTP handlers for scheduler control operations.
type AgentHandlers struct {
	Svc     SchedulerControl
	History RunHistoryReader
}

// scheduleBody is the optional request body for Schedule. An empty body
// schedules from the expression stored on the agent record; enabled=false
// disables the schedule and removes the task.
type scheduleBody struct {
	Cron     *string         `json:"cron,omitempty"`
	Priority *model.Priority `json:"priority,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
}

// Schedule handles POST /api/agents/{id}/schedule.
func (h *AgentHandlers) Schedule(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return
	}

	var body scheduleBody
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}

	details, err := h.Svc.Schedule(r.Context(), service.ScheduleRequest{
		AgentID:  agentID,
		CronExpr: body.Cron,
		Priority: body.Priority,
		Enabled:  body.Enabled,
		JobID:    body.JobID,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

// GetTask handles GET /api/agents/{id}/schedule.
func (h *AgentHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return
	}

	details, err := h.Svc.GetTaskDetails(r.Context(), agentID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

// Unschedule handles DELETE /api/agents/{id}/schedule.
func (h *AgentHandlers) Unschedule(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return
	}

	if err := h.Svc.Unschedule(r.Context(), agentID); err != nil {
		WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunNow handles POST /api/agents/{id}/run.
func (h *AgentHandlers) RunNow(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return
	}

	jobID, err := h.Svc.RunNow(r.Context(), agentID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"agent_id": agentID,
		"job_id":   jobID,
	})
}

// Pause handles PATCH /api/agents/{id}/schedule/{jobId}/pause.
func (h *AgentHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	agentID, jobID, ok := requireAgentAndJobID(w, r)
	if !ok {
		return
	}

	details, err := h.Svc.PauseJob(r.Context(), agentID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

// Resume handles PATCH /api/agents/{id}/schedule/{jobId}/resume.
func (h *AgentHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	agentID, jobID, ok := requireAgentAndJobID(w, r)
	if !ok {
		return
	}

	details, err := h.Svc.ResumeJob(r.Context(), agentID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

// Stats handles GET /api/agents/schedule/status.
func (h *AgentHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Svc.GetStats(r.Context()))
}

// ListTasks handles GET /api/agents/schedule/tasks.
func (h *AgentHandlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Svc.ListTasks(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// PausedJobs handles GET /api/agents/schedule/paused.
func (h *AgentHandlers) PausedJobs(w http.ResponseWriter, r *http.Request) {
	paused := h.Svc.GetPausedJobs(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"paused": paused,
		"count":  len(paused),
	})
}

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// ListRuns handles GET /api/agents/{id}/runs.
func (h *AgentHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "not_found",
			Err:     errors.New("run history is not enabled"),
		})
		return
	}

	limit := parseIntQuery(r, "limit", defaultRunsLimit)
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.History.ListRuns(r.Context(), agentID, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func requireAgentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("agent id is required"),
		})
		return "", false
	}
	return agentID, true
}

func requireAgentAndJobID(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	agentID, ok := requireAgentID(w, r)
	if !ok {
		return "", "", false
	}
	jobID := r.PathValue("jobId")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return "", "", false
	}
	return agentID, jobID, true
}

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
