package model

import (
	"fmt"
	"strings"
)

// Priority orders simultaneously eligible tasks. Higher values dispatch first.
type Priority int

const (
	// PriorityLow is for background work that can wait for free capacity.
	PriorityLow Priority = 1
	// PriorityNormal is the default priority for scheduled agents.
	PriorityNormal Priority = 2
	// PriorityHigh is for agents that should preempt normal work.
	PriorityHigh Priority = 3
	// PriorityCritical is for agents that must run before anything else.
	PriorityCritical Priority = 4
)

// Valid returns true if the Priority is a known value.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String returns the canonical lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler for Priority.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid Priority: %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Priority.
func (p *Priority) UnmarshalText(text []byte) error {
	v, ok := ParsePriority(string(text))
	if !ok {
		return fmt.Errorf("invalid Priority: %q (valid options: low, normal, high, critical)", string(text))
	}
	*p = v
	return nil
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	default:
		return 0, false
	}
}

// kindPriorities assigns default priorities to well-known agent kinds.
// Kinds not listed here fall back to PriorityNormal.
var kindPriorities = map[string]Priority{
	AgentKindCustomerSupport:      PriorityHigh,
	AgentKindPerformanceOptimizer: PriorityHigh,
}

// DerivePriority resolves the effective priority for an agent. Resolution
// order: explicit override, configuration["priority"], kind default, normal.
// Unknown configuration strings fall through rather than failing.
func DerivePriority(agent AgentRecord, explicit *Priority) Priority {
	if explicit != nil && explicit.Valid() {
		return *explicit
	}
	if raw, ok := agent.ConfigString(ConfigKeyPriority); ok {
		if p, parsed := ParsePriority(raw); parsed {
			return p
		}
	}
	if p, ok := kindPriorities[agent.Kind]; ok {
		return p
	}
	return PriorityNormal
}
