package core

import (
	"time"

	"github.com/target/agent-scheduler/internal/domain/schedule"
)

// SchedulerConfig holds the tunables for the scheduler loop.
type SchedulerConfig struct {
	// CheckInterval is the tick cadence.
	CheckInterval time.Duration `json:"check_interval"`
	// MaxConcurrentAgents bounds simultaneous dispatches.
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries"`
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration `json:"base_backoff"`
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `json:"max_backoff"`
	// RunMissedOnStartup dispatches overdue tasks once during startup replay.
	RunMissedOnStartup bool `json:"run_missed_on_startup"`
	// AutoStart begins the tick loop as soon as the scheduler is constructed.
	AutoStart bool `json:"auto_start"`
	// DrainTimeout bounds how long Stop waits for in-flight runs.
	DrainTimeout time.Duration `json:"drain_timeout"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with the stock defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval:       60 * time.Second,
		MaxConcurrentAgents: 5,
		MaxRetries:          schedule.DefaultMaxRetries,
		BaseBackoff:         schedule.DefaultBaseBackoff,
		MaxBackoff:          schedule.DefaultMaxBackoff,
		RunMissedOnStartup:  false,
		DrainTimeout:        15 * time.Second,
	}
}

// Sanitize clamps invalid values to safe ones.
func (c *SchedulerConfig) Sanitize() {
	def := DefaultSchedulerConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.MaxConcurrentAgents < 1 {
		c.MaxConcurrentAgents = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
}

// RetryPolicy builds the domain retry policy from the config.
func (c SchedulerConfig) RetryPolicy() schedule.RetryPolicy {
	return schedule.NewRetryPolicy(c.MaxRetries, c.BaseBackoff, c.MaxBackoff)
}
