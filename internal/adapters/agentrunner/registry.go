// Package agentrunner resolves agent ids to registered handler functions and
// executes them, reporting progress back through an injected callback.
package agentrunner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/agent-scheduler/internal/core"
	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/errors"
)

// Invocation carries everything a handler needs for one run.
type Invocation struct {
	Agent model.AgentRecord
	// Report publishes intermediate progress. Never nil.
	Report func(event.Progress)
}

// HandlerFunc is the unit of agent business logic the scheduler executes.
type HandlerFunc func(ctx context.Context, inv Invocation) (model.RunResult, error)

// ProgressFunc receives progress reports from running handlers. Wired by
// bootstrap to publish AGENT_PROGRESS events.
type ProgressFunc func(agentID string, p event.Progress)

// RegistryOptions holds the dependencies for creating a Registry.
type RegistryOptions struct {
	Store        core.AgentStore
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
	OnProgress   ProgressFunc
}

// Registry maps agents to handlers. Resolution order is agent id, then agent
// kind, then the fallback.
type Registry struct {
	store        core.AgentStore
	logger       *slog.Logger
	timeProvider data.TimeProvider
	onProgress   ProgressFunc

	mu       sync.RWMutex
	byAgent  map[string]HandlerFunc
	byKind   map[string]HandlerFunc
	fallback HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &Registry{
		store:        opts.Store,
		logger:       logger.With("component", "agent_runner"),
		timeProvider: tp,
		onProgress:   opts.OnProgress,
		byAgent:      make(map[string]HandlerFunc),
		byKind:       make(map[string]HandlerFunc),
	}
}

// Register binds a handler to one agent id, replacing any previous binding.
func (r *Registry) Register(agentID string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAgent[agentID] = h
}

// RegisterKind binds a handler to every agent of a kind that has no
// id-specific handler.
func (r *Registry) RegisterKind(kind string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = h
}

// RegisterFallback binds the handler used when no id or kind handler matches.
func (r *Registry) RegisterFallback(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Run implements core.AgentRunner.
func (r *Registry) Run(ctx context.Context, agentID string) (model.RunResult, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return model.RunResult{}, err
	}

	handler := r.resolve(agentID, agent.Kind)
	if handler == nil {
		return model.RunResult{}, errors.NotFoundf(
			"no handler registered for agent %s (kind %s)", agentID, agent.Kind)
	}

	inv := Invocation{
		Agent:  agent.Clone(),
		Report: r.reporter(agentID),
	}

	started := r.timeProvider.Now()
	result, err := handler(ctx, inv)
	if result.Duration <= 0 {
		result.Duration = r.timeProvider.Now().Sub(started)
	}
	return result, err
}

func (r *Registry) resolve(agentID, kind string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byAgent[agentID]; ok {
		return h
	}
	if h, ok := r.byKind[kind]; ok {
		return h
	}
	return r.fallback
}

func (r *Registry) reporter(agentID string) func(event.Progress) {
	return func(p event.Progress) {
		if r.onProgress == nil {
			return
		}
		r.onProgress(agentID, p)
	}
}
