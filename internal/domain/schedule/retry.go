package schedule

import "time"

// Default retry policy values. Overridable through configuration.
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 300 * time.Second
)

// RetryPolicy decides whether a failed attempt retries and with what delay.
// The zero value is unusable; construct with NewRetryPolicy.
type RetryPolicy struct {
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewRetryPolicy constructs a policy, normalising out-of-range values to the
// defaults and raising the cap to at least the base delay.
func NewRetryPolicy(maxRetries int, base, capDelay time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if capDelay <= 0 {
		capDelay = DefaultMaxBackoff
	}
	if capDelay < base {
		capDelay = base
	}
	return RetryPolicy{maxRetries: maxRetries, baseBackoff: base, maxBackoff: capDelay}
}

// DefaultRetryPolicy returns the policy with stock values.
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(DefaultMaxRetries, DefaultBaseBackoff, DefaultMaxBackoff)
}

// MaxRetries returns the number of retries allowed after the first attempt.
func (p RetryPolicy) MaxRetries() int { return p.maxRetries }

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Terminal bool
	Delay    time.Duration
	Attempt  int
}

// Decide evaluates the attempt that just failed. Attempts are 1-indexed: the
// first failure is attempt 1. An attempt beyond MaxRetries is terminal;
// otherwise the delay doubles per attempt from the base, clamped to the cap.
func (p RetryPolicy) Decide(attempt int) Decision {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > p.maxRetries {
		return Decision{Terminal: true, Attempt: attempt}
	}

	delay := p.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxBackoff {
			delay = p.maxBackoff
			break
		}
	}
	if delay > p.maxBackoff {
		delay = p.maxBackoff
	}
	return Decision{Delay: delay, Attempt: attempt}
}
