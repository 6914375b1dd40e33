package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
	"github.com/target/agent-scheduler/internal/service"
	"github.com/target/agent-scheduler/internal/testutil"
)

// fakeControl is a recording SchedulerControl double.
type fakeControl struct {
	mu sync.Mutex

	scheduleReq *service.ScheduleRequest
	unscheduled []string
	ranNow      []string
	pauses      [][2]string
	resumes     [][2]string

	details model.TaskDetails
	jobID   string
	stats   model.SchedulerStats
	tasks   []model.TaskDetails
	paused  []model.PausedJob
	err     error
}

func (f *fakeControl) Schedule(_ context.Context, req service.ScheduleRequest) (model.TaskDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduleReq = &req
	return f.details, f.err
}

func (f *fakeControl) Unschedule(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unscheduled = append(f.unscheduled, agentID)
	return f.err
}

func (f *fakeControl) RunNow(_ context.Context, agentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranNow = append(f.ranNow, agentID)
	return f.jobID, f.err
}

func (f *fakeControl) PauseJob(_ context.Context, agentID, jobID string) (model.TaskDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, [2]string{agentID, jobID})
	return f.details, f.err
}

func (f *fakeControl) ResumeJob(_ context.Context, agentID, jobID string) (model.TaskDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, [2]string{agentID, jobID})
	return f.details, f.err
}

func (f *fakeControl) GetStats(context.Context) model.SchedulerStats { return f.stats }

func (f *fakeControl) GetTaskDetails(_ context.Context, _ string) (model.TaskDetails, error) {
	return f.details, f.err
}

func (f *fakeControl) ListTasks(context.Context) []model.TaskDetails { return f.tasks }

func (f *fakeControl) GetPausedJobs(context.Context) []model.PausedJob { return f.paused }

type fakeHistory struct {
	mu      sync.Mutex
	agentID string
	limit   int
	runs    []model.AgentRun
	err     error
}

func (f *fakeHistory) ListRuns(_ context.Context, agentID string, limit int) ([]model.AgentRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentID = agentID
	f.limit = limit
	return f.runs, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, svc *fakeControl, history RunHistoryReader) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(RouterServices{
		Scheduler: svc,
		History:   history,
		Logger:    quietLogger(),
	}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestScheduleEndpoint(t *testing.T) {
	svc := &fakeControl{details: model.TaskDetails{
		AgentID:     "a-1",
		JobID:       "a-1",
		Priority:    model.PriorityHigh,
		NextRunTime: testutil.TestTime().Add(5 * time.Minute),
	}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/schedule", map[string]string{
		"cron":     "*/5 * * * *",
		"priority": "high",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details model.TaskDetails
	decodeBody(t, resp, &details)
	assert.Equal(t, "a-1", details.AgentID)
	assert.Equal(t, model.PriorityHigh, details.Priority)

	require.NotNil(t, svc.scheduleReq)
	assert.Equal(t, "a-1", svc.scheduleReq.AgentID)
	require.NotNil(t, svc.scheduleReq.CronExpr)
	assert.Equal(t, "*/5 * * * *", *svc.scheduleReq.CronExpr)
	require.NotNil(t, svc.scheduleReq.Priority)
	assert.Equal(t, model.PriorityHigh, *svc.scheduleReq.Priority)
}

func TestScheduleDisabledPassesThrough(t *testing.T) {
	svc := &fakeControl{details: model.TaskDetails{AgentID: "a-1"}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/schedule", map[string]any{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, svc.scheduleReq)
	require.NotNil(t, svc.scheduleReq.Enabled)
	assert.False(t, *svc.scheduleReq.Enabled)
}

func TestScheduleAcceptsEmptyBody(t *testing.T) {
	svc := &fakeControl{}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/schedule", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, svc.scheduleReq)
	assert.Nil(t, svc.scheduleReq.CronExpr)
	assert.Nil(t, svc.scheduleReq.Priority)
}

func TestScheduleRejectsUnknownFields(t *testing.T) {
	server := newTestServer(t, &fakeControl{}, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/schedule", map[string]string{
		"corn": "*/5 * * * *",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "invalid_json", body["error"])
}

func TestErrorTaxonomyMapsToStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid cron", apperrors.InvalidCron("bogus", errors.New("parse")), http.StatusBadRequest, "invalid_cron"},
		{"not found", apperrors.NotFoundf("agent %s not found", "a-1"), http.StatusNotFound, "not_found"},
		{"not scheduled", apperrors.NotScheduledf("agent %s is not scheduled", "a-1"), http.StatusNotFound, "not_scheduled"},
		{"already running", apperrors.AlreadyRunning("a-1"), http.StatusConflict, "already_running"},
		{"store failure", apperrors.StoreFailure("update", errors.New("boom")), http.StatusInternalServerError, "store_failure"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, &fakeControl{err: tc.err}, nil)

			resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/schedule", nil)
			require.Equal(t, tc.status, resp.StatusCode)

			var body map[string]string
			decodeBody(t, resp, &body)
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestUnscheduleEndpoint(t *testing.T) {
	svc := &fakeControl{}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodDelete, server.URL+"/api/agents/a-1/schedule", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"a-1"}, svc.unscheduled)
}

func TestRunNowEndpoint(t *testing.T) {
	svc := &fakeControl{jobID: "manual-123"}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "a-1", body["agent_id"])
	assert.Equal(t, "manual-123", body["job_id"])
	assert.Equal(t, []string{"a-1"}, svc.ranNow)
}

func TestRunNowConflict(t *testing.T) {
	svc := &fakeControl{err: apperrors.AlreadyRunning("a-1")}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/agents/a-1/run", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPauseAndResumeRoutes(t *testing.T) {
	svc := &fakeControl{details: model.TaskDetails{AgentID: "a-1", JobID: "job-7", IsPaused: true}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodPatch, server.URL+"/api/agents/a-1/schedule/job-7/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details model.TaskDetails
	decodeBody(t, resp, &details)
	assert.True(t, details.IsPaused)

	resp = doJSON(t, http.MethodPatch, server.URL+"/api/agents/a-1/schedule/job-7/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, [][2]string{{"a-1", "job-7"}}, svc.pauses)
	assert.Equal(t, [][2]string{{"a-1", "job-7"}}, svc.resumes)
}

func TestStatsEndpoint(t *testing.T) {
	svc := &fakeControl{stats: model.SchedulerStats{
		IsRunning:           true,
		ScheduledTasksCount: 3,
		MaxConcurrentAgents: 5,
	}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/agents/schedule/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats model.SchedulerStats
	decodeBody(t, resp, &stats)
	assert.True(t, stats.IsRunning)
	assert.Equal(t, 3, stats.ScheduledTasksCount)
	assert.Equal(t, 5, stats.MaxConcurrentAgents)
}

func TestListTasksEndpoint(t *testing.T) {
	svc := &fakeControl{tasks: []model.TaskDetails{
		{AgentID: "a-1", Priority: model.PriorityCritical},
		{AgentID: "a-2", Priority: model.PriorityLow},
	}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/agents/schedule/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tasks []model.TaskDetails `json:"tasks"`
		Count int                 `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Tasks, 2)
	assert.Equal(t, "a-1", body.Tasks[0].AgentID)
}

func TestPausedJobsEndpoint(t *testing.T) {
	pausedAt := testutil.TestTime()
	svc := &fakeControl{paused: []model.PausedJob{
		{AgentID: "a-1", JobID: "a-1", PausedAt: &pausedAt},
	}}
	server := newTestServer(t, svc, nil)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/agents/schedule/paused", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Paused []model.PausedJob `json:"paused"`
		Count  int               `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Count)
}

func TestListRunsEndpoint(t *testing.T) {
	history := &fakeHistory{runs: []model.AgentRun{
		{ID: "run-1", AgentID: "a-1", JobID: "a-1", StartedAt: testutil.TestTime()},
	}}
	server := newTestServer(t, &fakeControl{}, history)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/agents/a-1/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs  []model.AgentRun `json:"runs"`
		Count int              `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, "a-1", history.agentID)
	assert.Equal(t, 10, history.limit)
}

func TestListRunsWithoutHistory(t *testing.T) {
	server := newTestServer(t, &fakeControl{}, nil)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/agents/a-1/runs", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpointBypassesAuth(t *testing.T) {
	server := httptest.NewServer(NewRouter(RouterServices{
		Scheduler: &fakeControl{},
		Auth:      AuthOptions{StaticToken: "sekrit"},
		Logger:    quietLogger(),
	}))
	t.Cleanup(server.Close)

	resp := doJSON(t, http.MethodGet, server.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}
