// Package cron evaluates standard 5-field cron expressions for the agent
// scheduler. It wraps robfig/cron's parser restricted to exactly the
// minute/hour/dom/month/dow fields; seconds fields and @-descriptors are
// rejected so stored expressions stay portable.
package cron

import (
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/target/agent-scheduler/internal/errors"
)

// parser accepts the classic five fields only. Day-of-month and day-of-week
// fire as a union when both are restricted, matching the common convention.
var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// Schedule computes fire times for a parsed cron expression.
type Schedule struct {
	expr  string
	inner robfig.Schedule
}

// Parse validates and compiles a 5-field cron expression.
func Parse(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Schedule{}, errors.InvalidCron(expr, nil)
	}
	inner, err := parser.Parse(trimmed)
	if err != nil {
		return Schedule{}, errors.InvalidCron(trimmed, err)
	}
	return Schedule{expr: trimmed, inner: inner}, nil
}

// Validate reports whether the expression parses, without keeping the result.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Expression returns the original expression text.
func (s Schedule) Expression() string {
	return s.expr
}

// NextAfter returns the earliest fire time strictly after t. Cron has whole-
// minute resolution, so for "* * * * *" this is the next full minute.
func (s Schedule) NextAfter(t time.Time) time.Time {
	return s.inner.Next(t)
}

// NextAfterExpr parses expr and returns its first fire time after t.
func NextAfterExpr(expr string, t time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.NextAfter(t), nil
}
