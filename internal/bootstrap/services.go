package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/agent-scheduler/config"
	"github.com/target/agent-scheduler/internal/adapters/agentrunner"
	redisadapter "github.com/target/agent-scheduler/internal/adapters/redis"
	"github.com/target/agent-scheduler/internal/adapters/statusreaper"
	"github.com/target/agent-scheduler/internal/adapters/webhook"
	"github.com/target/agent-scheduler/internal/data"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/observability/notify"
	"github.com/target/agent-scheduler/internal/observability/notify/pagerduty"
	"github.com/target/agent-scheduler/internal/observability/notify/slack"
	"github.com/target/agent-scheduler/internal/observability/statsd"
	"github.com/target/agent-scheduler/internal/service"
	"github.com/target/agent-scheduler/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Scheduler *service.SchedulerService
	Runner    *agentrunner.Registry
	Bus       *event.Bus

	AgentRepo  *data.AgentRepo
	RunHistory *data.RunHistoryRepo

	StatusReaper *statusreaper.Service

	Observability ObservabilityContainer

	// detachSinks unsubscribes the event sinks attached by NewServices.
	detachSinks []func()
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires the scheduler, its stores, event sinks, and observability
// from configuration. The scheduler loop starts here only when
// SCHEDULER_AUTO_START is set; otherwise callers start it via
// RunServicesWithShutdown or Scheduler.Start.
func NewServices(deps *ServiceDeps) ServiceContainer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
		cfg.Sanitize()
	}

	obs := newObservability(cfg, logger)

	agentRepo := data.NewAgentRepo(deps.DB)
	runHistory := data.NewRunHistoryRepo(deps.DB)

	bus := event.NewBus(event.BusOptions{Logger: logger})

	// Sinks attach before the scheduler exists so an auto-started loop's
	// startup replay is already visible to them.
	detachSinks := attachEventSinks(sinkDeps{
		Config: cfg,
		Redis:  deps.RedisClient,
		Bus:    bus,
		Logger: logger,
	})

	runner := agentrunner.NewRegistry(agentrunner.RegistryOptions{
		Store:      agentRepo,
		Logger:     logger,
		OnProgress: runnerProgressPublisher(bus),
	})

	schedulerCfg := cfg.Scheduler.ServiceConfig()
	scheduler := service.NewSchedulerService(service.SchedulerServiceOptions{
		Store:      agentRepo,
		Runner:     runner,
		History:    runHistory,
		Bus:        bus,
		Config:     &schedulerCfg,
		Logger:     logger,
		Metrics:    obs.MetricsSink,
		OnTerminal: terminalFailureHook(obs.FailureNotifier),
	})

	container := ServiceContainer{
		Scheduler:     scheduler,
		Runner:        runner,
		Bus:           bus,
		AgentRepo:     agentRepo,
		RunHistory:    runHistory,
		Observability: obs,
		detachSinks:   detachSinks,
	}

	if cfg.IsStatusReaperEnabled() {
		reaper, err := statusreaper.NewService(statusreaper.Options{
			Repo:       agentRepo,
			Interval:   cfg.StatusReaper.Interval,
			StaleAfter: cfg.StatusReaper.StaleAfter,
			Logger:     logger,
			Metrics:    obs.MetricsSink,
		})
		if err != nil {
			logger.Error("status reaper init failed", "error", err)
		} else {
			container.StatusReaper = reaper
		}
	}

	return container
}

// newObservability builds the metrics sink and failure notifier from config.
func newObservability(cfg *config.AppConfig, logger *slog.Logger) ObservabilityContainer {
	obs := ObservabilityContainer{
		MetricsConfig:  cfg.Observability.Metrics,
		NotifierConfig: cfg.Observability.Notifications,
	}

	metricsSink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  "agentsched",
		Logger:  logger,
	})
	if err != nil {
		logger.Error("statsd client init failed, metrics disabled", "error", err)
	} else {
		obs.MetricsSink = metricsSink
	}

	obs.FailureNotifier = failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  notificationSinks(cfg.Observability.Notifications, logger),
	})

	return obs
}

func notificationSinks(
	cfg config.ObservabilityNotificationsConfig,
	logger *slog.Logger,
) []failurenotifier.SinkRegistration {
	var sinks []failurenotifier.SinkRegistration

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:     cfg.Slack.WebhookURL,
			Channel:        cfg.Slack.Channel,
			Username:       cfg.Slack.Username,
			AgentURLPrefix: cfg.Slack.AgentURLPrefix,
			Timeout:        cfg.Timeout,
			RetryLimit:     cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("slack notifier init failed", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("pagerduty notifier init failed", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return sinks
}

// runnerProgressPublisher fans handler progress reports out as AGENT_PROGRESS
// events on the agent topic and the scheduler topic. The job id mirrors the
// agent id, matching the default for scheduled tasks.
func runnerProgressPublisher(bus *event.Bus) agentrunner.ProgressFunc {
	return func(agentID string, p event.Progress) {
		evt := event.AgentProgress(agentID, agentID, time.Now().UTC(), p)
		bus.Publish(event.AgentTopic(agentID), evt)
		bus.Publish(event.TopicScheduler, evt)
	}
}

// terminalFailureHook bridges scheduler terminal failures to the notifier.
func terminalFailureHook(notifier *failurenotifier.Service) service.TerminalFailureFunc {
	if notifier == nil || !notifier.Enabled() {
		return nil
	}
	return func(ctx context.Context, failure service.TerminalFailure) {
		notifier.NotifyAgentFailure(ctx, notify.AgentFailurePayload{
			AgentID:    failure.AgentID,
			JobID:      failure.JobID,
			Kind:       failure.Kind,
			Error:      failure.Error,
			Attempts:   failure.Attempts,
			Severity:   notify.SeverityCritical,
			OccurredAt: time.Now().UTC(),
		})
	}
}

type sinkDeps struct {
	Config *config.AppConfig
	Redis  redis.UniversalClient
	Bus    *event.Bus
	Logger *slog.Logger
}

// attachEventSinks wires the configured outbound sinks onto the scheduler
// topic and returns their detach functions.
func attachEventSinks(deps sinkDeps) []func() {
	var detach []func()

	if deps.Config.Redis.Enabled() && deps.Redis != nil {
		sink := redisadapter.NewEventSink(redisadapter.EventSinkOptions{
			Client: deps.Redis,
			Prefix: deps.Config.Events.RedisChannelPrefix,
			Logger: deps.Logger,
		})
		detach = append(detach, deps.Bus.AttachSink(event.TopicScheduler, sink))
		deps.Logger.Info("redis event sink attached",
			"channel", sink.Channel(event.TopicScheduler))
	}

	if deps.Config.Events.Webhook.Enabled() {
		wh := deps.Config.Events.Webhook
		sink, err := webhook.NewSink(webhook.Config{
			URL:               wh.URL,
			Filter:            wh.Filter,
			Body:              wh.Body,
			OAuthTokenURL:     wh.OAuthTokenURL,
			OAuthClientID:     wh.OAuthClientID,
			OAuthClientSecret: wh.OAuthClientSecret,
			OAuthScopes:       wh.OAuthScopes,
			Timeout:           wh.Timeout,
			RetryLimit:        wh.RetryLimit,
		}, deps.Logger)
		if err != nil {
			deps.Logger.Error("webhook event sink init failed", "error", err)
		} else {
			detach = append(detach, deps.Bus.AttachSink(event.TopicScheduler, sink))
			deps.Logger.Info("webhook event sink attached", "url", wh.URL)
		}
	}

	return detach
}

// Close detaches event sinks and shuts down the bus and metrics sink.
func (c *ServiceContainer) Close() {
	for _, detach := range c.detachSinks {
		detach()
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.Observability.MetricsSink != nil {
		_ = c.Observability.MetricsSink.Close()
	}
}

// ServiceOrchestrationConfig groups dependencies for running services until
// shutdown.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// termination signal or a service failure, then drains everything.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	services := cfg.Services

	if cfg.Config.IsSchedulerEnabled() {
		if err := services.Scheduler.Start(groupCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		logger.Info("scheduler started")
	}

	if services.StatusReaper != nil {
		group.Go(func() error {
			return services.StatusReaper.Run(groupCtx)
		})
	}

	var httpServer *HTTPServer
	if cfg.Config.IsHTTPServerEnabled() {
		httpServer = NewHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: services,
			Logger:   logger,
		})
		group.Go(httpServer.Start)
	}

	<-groupCtx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	// Stop is a no-op when the loop never started, so auto-started
	// schedulers outside the scheduler service mode still drain here.
	if err := services.Scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	services.Close()

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}

	logger.Info("all services stopped")
	return errors.Join(errs...)
}
