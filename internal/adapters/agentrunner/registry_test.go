package agentrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
	"github.com/target/agent-scheduler/internal/testutil"
)

type staticStore struct {
	agents map[string]model.AgentRecord
}

func (s *staticStore) GetAgent(_ context.Context, id string) (*model.AgentRecord, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, apperrors.NotFoundf("agent %s not found", id)
	}
	clone := a.Clone()
	return &clone, nil
}

func (s *staticStore) ListScheduledEnabled(context.Context) ([]model.AgentRecord, error) {
	return nil, nil
}

func (s *staticStore) UpdateSchedule(context.Context, string, model.ScheduleUpdate) error {
	return nil
}

func (s *staticStore) SetStatus(context.Context, string, model.AgentStatus) error {
	return nil
}

func newTestRegistry(agents ...model.AgentRecord) *Registry {
	store := &staticStore{agents: make(map[string]model.AgentRecord)}
	for _, a := range agents {
		store.agents[a.ID] = a
	}
	return NewRegistry(RegistryOptions{
		Store:        store,
		TimeProvider: testutil.NewTestTimeProvider(testutil.TestTime()),
	})
}

func TestRunResolvesAgentHandlerFirst(t *testing.T) {
	reg := newTestRegistry(testutil.NewAgent("a").WithKind("report_generator").Build())

	reg.RegisterKind("report_generator", func(context.Context, Invocation) (model.RunResult, error) {
		return model.RunResult{Success: false, Error: "kind handler should not run"}, nil
	})
	reg.Register("a", func(_ context.Context, inv Invocation) (model.RunResult, error) {
		assert.Equal(t, "a", inv.Agent.ID)
		return model.RunResult{Success: true, Duration: 42 * time.Millisecond}, nil
	})

	result, err := reg.Run(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 42*time.Millisecond, result.Duration)
}

func TestRunFallsBackToKindThenFallback(t *testing.T) {
	reg := newTestRegistry(
		testutil.NewAgent("k").WithKind("data_analyzer").Build(),
		testutil.NewAgent("other").WithKind("unmatched").Build(),
	)

	reg.RegisterKind("data_analyzer", func(context.Context, Invocation) (model.RunResult, error) {
		return model.RunResult{Success: true, Error: "", Duration: time.Millisecond}, nil
	})
	reg.RegisterFallback(func(context.Context, Invocation) (model.RunResult, error) {
		return model.RunResult{Success: false, Error: "fallback"}, nil
	})

	result, err := reg.Run(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = reg.Run(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Error)
}

func TestRunWithoutHandlerReturnsNotFound(t *testing.T) {
	reg := newTestRegistry(testutil.NewAgent("a").Build())

	_, err := reg.Run(context.Background(), "a")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = reg.Run(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestProgressReportsFlowToCallback(t *testing.T) {
	store := &staticStore{agents: map[string]model.AgentRecord{
		"p": testutil.NewAgent("p").Build(),
	}}

	var reports []event.Progress
	reg := NewRegistry(RegistryOptions{
		Store: store,
		OnProgress: func(agentID string, p event.Progress) {
			assert.Equal(t, "p", agentID)
			reports = append(reports, p)
		},
	})

	reg.Register("p", func(_ context.Context, inv Invocation) (model.RunResult, error) {
		inv.Report(event.Progress{Percent: 50, Message: "halfway"})
		inv.Report(event.Progress{Percent: 100})
		return model.RunResult{Success: true}, nil
	})

	_, err := reg.Run(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 50, reports[0].Percent)
	assert.Equal(t, "halfway", reports[0].Message)
}
