// Package service implements the agent scheduler: the tick loop that
// dispatches due tasks, the retry machinery, and the operator control API.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/agent-scheduler/internal/core"
	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/domain/schedule"
	obserrors "github.com/target/agent-scheduler/internal/observability/errors"
	"github.com/target/agent-scheduler/internal/observability/metrics"
	"github.com/target/agent-scheduler/internal/observability/statsd"
)

// TerminalFailureFunc is invoked after an agent exhausts its retries. Wired
// to the failure notifier by bootstrap; optional.
type TerminalFailureFunc func(ctx context.Context, failure TerminalFailure)

// TerminalFailure describes a run that exhausted its retry budget.
type TerminalFailure struct {
	AgentID  string
	JobID    string
	Kind     string
	Error    string
	Attempts int
}

// SchedulerService owns the in-memory task table and runs the dispatch loop.
// A single mutex guards the table, the running set, and the lifecycle flags;
// no store, runner, or sink I/O happens while it is held.
type SchedulerService struct {
	store        core.AgentStore
	runner       core.AgentRunner
	history      core.RunHistorySink
	bus          event.Publisher
	cfg          core.SchedulerConfig
	policy       schedule.RetryPolicy
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
	onTerminal   TerminalFailureFunc

	mu        sync.Mutex
	table     *schedule.Table
	running   map[string]struct{}
	slots     *schedule.Slots
	isRunning bool
	stopCh    chan struct{}
	loopDone  chan struct{}

	// wg tracks in-flight dispatch goroutines for the stop-time drain.
	wg sync.WaitGroup
	// wake lets Schedule nudge the loop so a freshly due task does not wait
	// out the full check interval.
	wake chan struct{}
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Store        core.AgentStore
	Runner       core.AgentRunner
	History      core.RunHistorySink
	Bus          event.Publisher
	Config       *core.SchedulerConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
	Metrics      statsd.Sink
	OnTerminal   TerminalFailureFunc
}

// NewSchedulerService creates a new SchedulerService with the given
// dependencies. When the config sets AutoStart the tick loop begins before
// the constructor returns.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultSchedulerConfig()
		opts.Config = &defaultCfg
	}
	opts.Config.Sanitize()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(event.BusOptions{Logger: opts.Logger})
	}

	s := &SchedulerService{
		store:        opts.Store,
		runner:       opts.Runner,
		history:      opts.History,
		bus:          opts.Bus,
		cfg:          *opts.Config,
		policy:       opts.Config.RetryPolicy(),
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "scheduler"),
		metrics:      opts.Metrics,
		onTerminal:   opts.OnTerminal,
		table:        schedule.NewTable(),
		running:      make(map[string]struct{}),
		slots:        schedule.NewSlots(opts.Config.MaxConcurrentAgents),
		wake:         make(chan struct{}, 1),
	}
	if s.cfg.AutoStart {
		_ = s.Start(context.Background())
	}
	return s
}

// Start loads persisted schedules and begins the tick loop. Calling Start on
// a running scheduler is a no-op; after Stop it starts a fresh lifecycle.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	stopCh := s.stopCh
	loopDone := s.loopDone
	s.mu.Unlock()

	if err := s.loadFromStore(ctx); err != nil {
		s.logger.WarnContext(ctx, "startup replay failed; continuing with empty table", "error", err)
	}

	s.logger.InfoContext(ctx, "scheduler started",
		"check_interval", s.cfg.CheckInterval,
		"max_concurrent_agents", s.cfg.MaxConcurrentAgents)
	s.publishStatus()

	// Run one pass right away so restored overdue tasks dispatch during
	// startup instead of waiting out the first check interval.
	s.nudge()

	go s.loop(stopCh, loopDone)
	return nil
}

// Stop halts the loop after any in-progress tick and waits for in-flight
// agent runs up to the drain timeout. Runs that outlive the window finish in
// the background.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.stopCh)
	loopDone := s.loopDone
	s.mu.Unlock()

	<-loopDone

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.WarnContext(ctx, "drain timeout elapsed with runs still in flight",
			"drain_timeout", s.cfg.DrainTimeout)
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "scheduler stopped")
	s.publishStatus()
	return nil
}

// IsRunning reports whether the tick loop is active.
func (s *SchedulerService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Bus exposes the event publisher for transports that subscribe downstream.
func (s *SchedulerService) Bus() event.Publisher {
	return s.bus
}

func (s *SchedulerService) loop(stopCh, loopDone chan struct{}) {
	defer close(loopDone)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		case <-s.wake:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one dispatch pass: claim eligible tasks up to the free worker
// slots and launch them. Returns the number of tasks dispatched.
func (s *SchedulerService) Tick(ctx context.Context) int {
	started := time.Now()
	now := s.timeProvider.Now()

	s.mu.Lock()
	queue := schedule.BuildReady(s.table, now, s.running)
	var claimed []*schedule.Task
	for s.slots.TryAcquire() {
		task := queue.Pop()
		if task == nil {
			s.slots.Release()
			break
		}
		s.running[task.AgentID] = struct{}{}
		claimed = append(claimed, task)
	}
	gauges := metrics.SchedulerGauges{
		Tasks:   s.table.ScheduledLen(),
		Running: len(s.running),
		Queued:  queue.Len(),
	}
	s.mu.Unlock()

	for _, task := range claimed {
		s.wg.Add(1)
		go s.dispatch(ctx, task, dispatchOptions{holdsSlot: true})
	}

	s.emitTickMetrics(len(claimed), time.Since(started), gauges)
	if len(claimed) > 0 {
		s.publishStatus()
	}
	return len(claimed)
}

func (s *SchedulerService) emitTickMetrics(dispatched int, elapsed time.Duration, g metrics.SchedulerGauges) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if dispatched == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}

	s.metrics.Count("scheduler.tick", 1, tags)
	if dispatched > 0 {
		s.metrics.Count("scheduler.dispatched", int64(dispatched), tags)
	}
	if elapsed > 0 {
		s.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	s.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	metrics.EmitSchedulerGauges(s.metrics, g)
}

// statsLocked builds a stats snapshot. Callers hold the mutex.
func (s *SchedulerService) statsLocked() model.SchedulerStats {
	now := s.timeProvider.Now()
	queued := 0
	for _, t := range s.table.List() {
		if t.IsManualRun || !t.Eligible(now) {
			continue
		}
		if _, inFlight := s.running[t.AgentID]; inFlight {
			continue
		}
		queued++
	}
	return model.SchedulerStats{
		IsRunning:           s.isRunning,
		ScheduledTasksCount: s.table.ScheduledLen(),
		RunningAgentsCount:  len(s.running),
		QueuedTasksCount:    queued,
		MaxConcurrentAgents: s.slots.Capacity(),
		PausedJobsCount:     s.table.PausedLen(),
	}
}

// publishStatus emits a SCHEDULER_STATUS snapshot on the scheduler topic.
func (s *SchedulerService) publishStatus() {
	s.mu.Lock()
	stats := s.statsLocked()
	s.mu.Unlock()
	s.bus.Publish(event.TopicScheduler, event.SchedulerStatus(s.timeProvider.Now(), stats))
}

// publishAgent fans an agent event out to its topic and the scheduler topic.
func (s *SchedulerService) publishAgent(evt event.Event) {
	s.bus.Publish(event.AgentTopic(evt.AgentID), evt)
	s.bus.Publish(event.TopicScheduler, evt)
}

// nudge wakes the loop without waiting for the ticker. Non-blocking.
func (s *SchedulerService) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// classifyTag returns the error-class tag value for a runner error string.
func classifyTag(err error) string {
	return obserrors.Classify(err)
}
