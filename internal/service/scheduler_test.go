package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/core"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/domain/schedule"
	apperrors "github.com/target/agent-scheduler/internal/errors"
	"github.com/target/agent-scheduler/internal/testutil"
)

// fakeStore is an in-memory AgentStore that applies updates the way the
// Postgres repo does, so replay and persistence assertions are realistic.
type fakeStore struct {
	mu     sync.Mutex
	agents map[string]*model.AgentRecord

	statusCalls []model.AgentStatus
	listErr     error
}

func newFakeStore(agents ...model.AgentRecord) *fakeStore {
	s := &fakeStore{agents: make(map[string]*model.AgentRecord)}
	for i := range agents {
		a := agents[i].Clone()
		s.agents[a.ID] = &a
	}
	return s
}

func (s *fakeStore) GetAgent(_ context.Context, id string) (*model.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, apperrors.NotFoundf("agent %s not found", id)
	}
	clone := a.Clone()
	return &clone, nil
}

func (s *fakeStore) ListScheduledEnabled(_ context.Context) ([]model.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.AgentRecord
	for _, a := range s.agents {
		if a.ScheduleEnabled && a.ScheduleExpression != nil {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSchedule(_ context.Context, id string, update model.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return apperrors.NotFoundf("agent %s not found", id)
	}
	if update.ScheduleExpression != nil {
		expr := *update.ScheduleExpression
		a.ScheduleExpression = &expr
	}
	if update.ScheduleEnabled != nil {
		a.ScheduleEnabled = *update.ScheduleEnabled
	}
	switch {
	case update.ClearNextRunAt:
		a.NextRunAt = nil
	case update.NextRunAt != nil:
		t := *update.NextRunAt
		a.NextRunAt = &t
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		a.LastRunAt = &t
	}
	if len(update.ConfigPatch) > 0 {
		if a.Configuration == nil {
			a.Configuration = map[string]any{}
		}
		for k, v := range update.ConfigPatch {
			a.Configuration[k] = v
		}
	}
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, id string, status model.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return apperrors.NotFoundf("agent %s not found", id)
	}
	a.Status = status
	s.statusCalls = append(s.statusCalls, status)
	return nil
}

func (s *fakeStore) agent(id string) model.AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id].Clone()
}

// scriptedRunner returns queued results per agent and records invocations.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string][]model.RunResult
	calls   []string
	gate    chan struct{}
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: make(map[string][]model.RunResult)}
}

func (r *scriptedRunner) script(agentID string, results ...model.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[agentID] = append(r.scripts[agentID], results...)
}

func (r *scriptedRunner) Run(_ context.Context, agentID string) (model.RunResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, agentID)
	var result model.RunResult
	if queued := r.scripts[agentID]; len(queued) > 0 {
		result = queued[0]
		r.scripts[agentID] = queued[1:]
	} else {
		result = model.RunResult{Success: true}
	}
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return result, nil
}

func (r *scriptedRunner) invocations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// capturePublisher records events synchronously for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	topic string
	evt   event.Event
}

func (p *capturePublisher) Publish(topic string, evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{topic: topic, evt: evt})
}

func (p *capturePublisher) ofType(t event.Type) []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Event
	for _, c := range p.events {
		if c.evt.Type == t && c.topic == event.TopicScheduler {
			out = append(out, c.evt)
		}
	}
	return out
}

type testScheduler struct {
	svc    *SchedulerService
	store  *fakeStore
	runner *scriptedRunner
	clock  *testutil.TestTimeProvider
	bus    *capturePublisher
}

func newTestScheduler(t *testing.T, cfg core.SchedulerConfig, agents ...model.AgentRecord) *testScheduler {
	t.Helper()

	store := newFakeStore(agents...)
	runner := newScriptedRunner()
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	bus := &capturePublisher{}

	svc := NewSchedulerService(SchedulerServiceOptions{
		Store:        store,
		Runner:       runner,
		Bus:          bus,
		Config:       &cfg,
		TimeProvider: clock,
	})
	return &testScheduler{svc: svc, store: store, runner: runner, clock: clock, bus: bus}
}

func fastConfig() core.SchedulerConfig {
	cfg := core.DefaultSchedulerConfig()
	cfg.CheckInterval = time.Second
	return cfg
}

// tickAndWait runs one tick and waits for every dispatch it launched.
func (ts *testScheduler) tickAndWait(ctx context.Context) int {
	n := ts.svc.Tick(ctx)
	ts.svc.wg.Wait()
	return n
}

func (ts *testScheduler) taskSnapshot(agentID string) *schedule.Task {
	ts.svc.mu.Lock()
	defer ts.svc.mu.Unlock()
	task := ts.svc.table.Get(agentID)
	if task == nil {
		return nil
	}
	clone := *task
	return &clone
}

func agentFixture(id, cron string) model.AgentRecord {
	return testutil.NewAgent(id).WithCron(cron).Build()
}

func TestTickDoesNotDispatchBeforeDue(t *testing.T) {
	ctx := context.Background()
	ts := newTestScheduler(t, fastConfig(), agentFixture("a", "*/5 * * * *"))

	_, err := ts.svc.Schedule(ctx, ScheduleRequest{AgentID: "a"})
	require.NoError(t, err)

	// Scheduled at 12:00:00, first fire is 12:05:00.
	assert.Equal(t, 0, ts.tickAndWait(ctx))
	ts.clock.SetTime(testutil.TestTime().Add(4 * time.Minute))
	assert.Equal(t, 0, ts.tickAndWait(ctx))
	assert.Empty(t, ts.runner.invocations())
}

func TestTickDispatchesDueTaskExactlyOnce(t *testing.T) {
	ctx := context.Background()
	ts := newTestScheduler(t, fastConfig(), agentFixture("a", "*/5 * * * *"))

	_, err := ts.svc.Schedule(ctx, ScheduleRequest{AgentID: "a"})
	require.NoError(t, err)

	ts.clock.SetTime(testutil.TestTime().Add(5 * time.Minute))
	assert.Equal(t, 1, ts.tickAndWait(ctx))
	assert.Equal(t, []string{"a"}, ts.runner.invocations())

	// Same instant again: next run has advanced to 12:10.
	assert.Equal(t, 0, ts.tickAndWait(ctx))
	assert.Equal(t, []string{"a"}, ts.runner.invocations())

	task := ts.taskSnapshot("a")
	require.NotNil(t, task)
	assert.Equal(t, testutil.TestTime().Add(10*time.Minute), task.NextRunTime)
}

func TestTickEmptyTableIsClean(t *testing.T) {
	ts := newTestScheduler(t, fastConfig())
	assert.Equal(t, 0, ts.tickAndWait(context.Background()))
}

func TestPriorityOrderWithLimitedSlots(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.MaxConcurrentAgents = 2

	ts := newTestScheduler(t, cfg,
		agentFixture("low", "* * * * *"),
		testutil.NewAgent("high").WithCron("* * * * *").WithPriority("high").Build(),
		testutil.NewAgent("critical").WithCron("* * * * *").WithPriority("critical").Build(),
	)

	for _, id := range []string{"low", "high", "critical"} {
		_, err := ts.svc.Schedule(ctx, ScheduleRequest{AgentID: id})
		require.NoError(t, err)
	}

	ts.clock.SetTime(testutil.TestTime().Add(time.Minute))
	assert.Equal(t, 2, ts.tickAndWait(ctx))
	assert.ElementsMatch(t, []string{"critical", "high"}, ts.runner.invocations())

	// A slot is free again; the waiting task dispatches on the next tick.
	assert.Equal(t, 1, ts.tickAndWait(ctx))
	assert.Equal(t, "low", ts.runner.invocations()[2])
}

func TestCompletedRunEmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	ts := newTestScheduler(t, fastConfig(), agentFixture("a", "* * * * *"))

	_, err := ts.svc.Schedule(ctx, ScheduleRequest{AgentID: "a"})
	require.NoError(t, err)

	ts.clock.SetTime(testutil.TestTime().Add(time.Minute))
	require.Equal(t, 1, ts.tickAndWait(ctx))

	started := ts.bus.ofType(event.TypeAgentStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "a", started[0].AgentID)

	completed := ts.bus.ofType(event.TypeAgentCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].DurationMS)

	agent := ts.store.agent("a")
	assert.Equal(t, model.AgentStatusCompleted, agent.Status)
	require.NotNil(t, agent.LastRunAt)
	assert.Equal(t, testutil.TestTime().Add(time.Minute), *agent.LastRunAt)
}

func TestStatusEventEmittedOnDispatchingTick(t *testing.T) {
	ctx := context.Background()
	ts := newTestScheduler(t, fastConfig(), agentFixture("a", "* * * * *"))

	_, err := ts.svc.Schedule(ctx, ScheduleRequest{AgentID: "a"})
	require.NoError(t, err)
	before := len(ts.bus.ofType(event.TypeSchedulerStatus))

	// Idle tick: no status event.
	ts.tickAndWait(ctx)
	assert.Len(t, ts.bus.ofType(event.TypeSchedulerStatus), before)

	ts.clock.SetTime(testutil.TestTime().Add(time.Minute))
	require.Equal(t, 1, ts.tickAndWait(ctx))
	assert.Greater(t, len(ts.bus.ofType(event.TypeSchedulerStatus)), before)
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestScheduler(t, fastConfig())

	require.NoError(t, ts.svc.Start(ctx))
	assert.True(t, ts.svc.IsRunning())
	// Idempotent while running.
	require.NoError(t, ts.svc.Start(ctx))

	require.NoError(t, ts.svc.Stop(ctx))
	assert.False(t, ts.svc.IsRunning())
	// Stop on a stopped scheduler is a no-op.
	require.NoError(t, ts.svc.Stop(ctx))

	// A new lifecycle can start after Stop.
	require.NoError(t, ts.svc.Start(ctx))
	require.NoError(t, ts.svc.Stop(ctx))
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.DrainTimeout = 5 * time.Second

	ts := newTestScheduler(t, cfg, testutil.NewAgent("slow").Build())
	gate := make(chan struct{})
	ts.runner.gate = gate

	require.NoError(t, ts.svc.Start(ctx))
	_, err := ts.svc.RunNow(ctx, "slow")
	require.NoError(t, err)

	stopDone := make(chan struct{})
	go func() {
		_ = ts.svc.Stop(ctx)
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
}

func TestAutoStartBeginsLoopAtConstruction(t *testing.T) {
	cfg := fastConfig()
	cfg.AutoStart = true

	ts := newTestScheduler(t, cfg)
	assert.True(t, ts.svc.IsRunning())
	require.NoError(t, ts.svc.Stop(context.Background()))
}

func TestZeroMaxConcurrentClampsToOne(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrentAgents = 0
	ts := newTestScheduler(t, cfg)
	assert.Equal(t, 1, ts.svc.GetStats(context.Background()).MaxConcurrentAgents)
}
