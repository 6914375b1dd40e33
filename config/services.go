package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/agent-scheduler/internal/core"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the control API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the agent scheduler loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeStatusReaper runs the stale-status reconciler.
	ServiceModeStatusReaper ServiceMode = "status-reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeStatusReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeStatusReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, status-reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler loop configuration.
type SchedulerConfig struct {
	// CheckInterval is the scheduler tick cadence.
	CheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL" envDefault:"60s"`

	// MaxConcurrentAgents bounds simultaneous agent dispatches.
	MaxConcurrentAgents int `env:"SCHEDULER_MAX_CONCURRENT_AGENTS" envDefault:"5"`

	// MaxRetries is the number of retries after the initial attempt before a
	// task is removed and its schedule disabled.
	MaxRetries int `env:"SCHEDULER_MAX_RETRIES" envDefault:"3"`

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration `env:"SCHEDULER_BASE_BACKOFF" envDefault:"1s"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `env:"SCHEDULER_MAX_BACKOFF" envDefault:"300s"`

	// RunMissedOnStartup dispatches overdue tasks once during startup replay.
	RunMissedOnStartup bool `env:"SCHEDULER_RUN_MISSED_ON_STARTUP" envDefault:"false"`

	// AutoStart starts the scheduler loop immediately after construction.
	AutoStart bool `env:"SCHEDULER_AUTO_START" envDefault:"false"`

	// DrainTimeout bounds how long shutdown waits for in-flight runs.
	DrainTimeout time.Duration `env:"SCHEDULER_DRAIN_TIMEOUT" envDefault:"15s"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	cfg := s.ServiceConfig()
	cfg.Sanitize()
	s.CheckInterval = cfg.CheckInterval
	s.MaxConcurrentAgents = cfg.MaxConcurrentAgents
	s.MaxRetries = cfg.MaxRetries
	s.BaseBackoff = cfg.BaseBackoff
	s.MaxBackoff = cfg.MaxBackoff
	s.DrainTimeout = cfg.DrainTimeout
}

// ServiceConfig maps the env-facing struct onto the scheduler's config.
func (s SchedulerConfig) ServiceConfig() core.SchedulerConfig {
	return core.SchedulerConfig{
		CheckInterval:       s.CheckInterval,
		MaxConcurrentAgents: s.MaxConcurrentAgents,
		MaxRetries:          s.MaxRetries,
		BaseBackoff:         s.BaseBackoff,
		MaxBackoff:          s.MaxBackoff,
		RunMissedOnStartup:  s.RunMissedOnStartup,
		AutoStart:           s.AutoStart,
		DrainTimeout:        s.DrainTimeout,
	}
}

// StatusReaperConfig contains stale-status reconciler configuration.
type StatusReaperConfig struct {
	// Interval is the sweep cadence.
	Interval time.Duration `env:"STATUS_REAPER_INTERVAL" envDefault:"60s"`

	// StaleAfter is how long an agent may sit in running status before it is
	// considered orphaned by a crashed process.
	StaleAfter time.Duration `env:"STATUS_REAPER_STALE_AFTER" envDefault:"10m"`
}

// Sanitize applies guardrails to status reaper configuration values.
func (r *StatusReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.StaleAfter < time.Minute {
		r.StaleAfter = time.Minute
	}
}
