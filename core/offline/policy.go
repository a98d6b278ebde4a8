package offline

import (
	"time"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

// RetryPolicy decides what happens to a mutation whose replay failed.
// The zero value retries forever, on every pass, whatever the error.
type RetryPolicy struct {
	// MaxAttempts moves a mutation to the dead letters once reached. 0 means unbounded.
	MaxAttempts int

	// BaseDelay defers the next attempt by BaseDelay*2^(attempts-1), capped at MaxDelay.
	// 0 disables backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Permanent classifies errors that will never succeed on retry.
	Permanent func(error) bool
}

func NewRetryPolicy(conf core.SyncConfig, permanent func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: conf.MaxAttempts,
		BaseDelay:   conf.BackoffBase,
		MaxDelay:    conf.BackoffMax,
		Permanent:   permanent,
	}
}

// Backoff returns how long to wait after the given number of failed attempts.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if p.BaseDelay <= 0 || attempts <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
		if delay <= 0 { // overflow
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// giveUp reports whether a mutation that failed with err after attempts should be dead-lettered.
func (p RetryPolicy) giveUp(attempts int, err error) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.Permanent != nil && p.Permanent(err)
}
