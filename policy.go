package xwalk

import (
	"fmt"
	"math"
	"time"
)

// DefaultRestartDelay is the wait between an engine exit and its relaunch.
const DefaultRestartDelay = 5 * time.Second

// RestartPolicy decides when, and whether, the Supervisor relaunches the engine.
//
// A zero Delay or Multiplier selects the DefaultRestartPolicy value, so the
// zero policy relaunches after exits at a constant 5s forever and never
// retries a failed spawn.
type RestartPolicy struct {
	// Delay is the wait before the first relaunch after an exit. Zero
	// selects DefaultRestartDelay.
	Delay time.Duration `yaml:"delay"`

	// Multiplier grows the delay after each consecutive relaunch.
	// Values <= 1 keep the delay constant.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxRestarts bounds the number of relaunches after exits.
	// Zero means unbounded.
	MaxRestarts int `yaml:"max_restarts"`

	// SpawnRetries is how many times a failed spawn is retried, at Delay,
	// before supervision stops. Zero means a spawn failure is terminal.
	SpawnRetries int `yaml:"spawn_retries"`
}

// DefaultRestartPolicy returns the constant, unbounded policy.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Delay:      DefaultRestartDelay,
		Multiplier: 1,
	}
}

// withDefaults fills the zero Delay and Multiplier.
func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.Delay == 0 {
		p.Delay = DefaultRestartDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = 1
	}
	return p
}

// Validate reports configuration that would make the policy misbehave.
func (p RestartPolicy) Validate() error {
	if p.Delay < 0 {
		return fmt.Errorf("restart delay must not be negative, got %v", p.Delay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("restart max delay must not be negative, got %v", p.MaxDelay)
	}
	if p.MaxRestarts < 0 {
		return fmt.Errorf("max restarts must not be negative, got %d", p.MaxRestarts)
	}
	if p.SpawnRetries < 0 {
		return fmt.Errorf("spawn retries must not be negative, got %d", p.SpawnRetries)
	}
	return nil
}

// Backoff returns the delay before relaunch number n (starting at 1).
func (p RestartPolicy) Backoff(n int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		f := float64(d)
		for i := 1; i < n; i++ {
			f *= p.Multiplier
			if p.MaxDelay > 0 && f >= float64(p.MaxDelay) {
				return p.MaxDelay
			}
			if f >= math.MaxInt64 {
				return time.Duration(math.MaxInt64)
			}
		}
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// allowRestart reports whether relaunch number n is within budget.
func (p RestartPolicy) allowRestart(n int) bool {
	return p.MaxRestarts == 0 || n <= p.MaxRestarts
}
