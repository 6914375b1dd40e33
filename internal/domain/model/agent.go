// Package model defines the core data types shared by the agent scheduler,
// its store, and its transports.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AgentStatus represents the lifecycle status persisted for an agent.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is scheduled but not executing.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusRunning indicates a run is currently in flight.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusPaused indicates the agent's scheduled task is paused.
	AgentStatusPaused AgentStatus = "paused"
	// AgentStatusError indicates the agent exhausted its retries.
	AgentStatusError AgentStatus = "error"
	// AgentStatusCompleted indicates the agent finished its last run successfully.
	AgentStatusCompleted AgentStatus = "completed"
)

// Valid returns true if the AgentStatus is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusRunning, AgentStatusPaused, AgentStatusError, AgentStatusCompleted:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for AgentStatus.
func (s *AgentStatus) UnmarshalText(text []byte) error {
	v := AgentStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid AgentStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Well-known agent kinds. Kind is an open set; these are the values the
// scheduler assigns default priorities for.
const (
	AgentKindCustomerSupport      = "CUSTOMER_SUPPORT"
	AgentKindPerformanceOptimizer = "PERFORMANCE_OPTIMIZER"
	AgentKindDataAnalyzer         = "DATA_ANALYZER"
	AgentKindReportGenerator      = "REPORT_GENERATOR"
)

// Configuration keys the scheduler reads or writes. The configuration map is
// otherwise opaque to the scheduler and owned by whoever provisions agents.
const (
	ConfigKeyPriority  = "priority"
	ConfigKeyIsPaused  = "isPaused"
	ConfigKeyPausedAt  = "pausedAt"
	ConfigKeyResumedAt = "resumedAt"
)

// AgentRecord is the persisted representation of an agent as the scheduler
// sees it. Configuration is stored as JSONB and patched by merge so keys the
// scheduler does not own survive its writes.
type AgentRecord struct {
	ID                 string         `json:"id"                            db:"id"`
	Name               string         `json:"name"                          db:"name"`
	Kind               string         `json:"kind"                          db:"kind"`
	ScheduleExpression *string        `json:"schedule_expression,omitempty" db:"schedule_expression"`
	ScheduleEnabled    bool           `json:"schedule_enabled"              db:"schedule_enabled"`
	NextRunAt          *time.Time     `json:"next_run_at,omitempty"         db:"next_run_at"`
	LastRunAt          *time.Time     `json:"last_run_at,omitempty"         db:"last_run_at"`
	Status             AgentStatus    `json:"status"                        db:"status"`
	Configuration      map[string]any `json:"configuration,omitempty"       db:"configuration"`
	CreatedAt          time.Time      `json:"created_at"                    db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"                    db:"updated_at"`
}

// Clone returns a deep copy of the record. The scheduler snapshots records at
// schedule time, so shared map state would otherwise leak between the table
// and the store.
func (a AgentRecord) Clone() AgentRecord {
	out := a
	if a.ScheduleExpression != nil {
		expr := *a.ScheduleExpression
		out.ScheduleExpression = &expr
	}
	if a.NextRunAt != nil {
		t := *a.NextRunAt
		out.NextRunAt = &t
	}
	if a.LastRunAt != nil {
		t := *a.LastRunAt
		out.LastRunAt = &t
	}
	if a.Configuration != nil {
		cfg := make(map[string]any, len(a.Configuration))
		for k, v := range a.Configuration {
			cfg[k] = v
		}
		out.Configuration = cfg
	}
	return out
}

// ConfigString reads a string value from the configuration map.
func (a AgentRecord) ConfigString(key string) (string, bool) {
	if a.Configuration == nil {
		return "", false
	}
	v, ok := a.Configuration[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ConfigBool reads a boolean value from the configuration map.
func (a AgentRecord) ConfigBool(key string) bool {
	if a.Configuration == nil {
		return false
	}
	v, ok := a.Configuration[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// PausedInConfig reports whether the configuration marks the agent paused.
func (a AgentRecord) PausedInConfig() bool {
	return a.ConfigBool(ConfigKeyIsPaused)
}

// ScheduleUpdate is a partial update applied by AgentStore.UpdateSchedule.
// Nil pointer fields are left untouched; ConfigPatch is merged into the
// stored configuration key by key.
type ScheduleUpdate struct {
	ScheduleExpression *string
	ScheduleEnabled    *bool
	NextRunAt          *time.Time
	ClearNextRunAt     bool
	LastRunAt          *time.Time
	ConfigPatch        map[string]any
}

// IsZero reports whether the update would change nothing.
func (u ScheduleUpdate) IsZero() bool {
	return u.ScheduleExpression == nil &&
		u.ScheduleEnabled == nil &&
		u.NextRunAt == nil &&
		!u.ClearNextRunAt &&
		u.LastRunAt == nil &&
		len(u.ConfigPatch) == 0
}

// CreateAgentRequest carries the fields needed to provision an agent.
// Used by the admin CLI and dev seeding; the scheduler itself never creates
// agents.
type CreateAgentRequest struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Kind               string         `json:"kind"`
	ScheduleExpression *string        `json:"schedule_expression,omitempty"`
	ScheduleEnabled    bool           `json:"schedule_enabled"`
	Configuration      map[string]any `json:"configuration,omitempty"`
}

// Validate validates the CreateAgentRequest fields.
func (r *CreateAgentRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("agent name is required")
	}
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("agent kind is required")
	}
	return nil
}
