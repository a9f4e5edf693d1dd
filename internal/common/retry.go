package common

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryableFunc defines a function that can be retried.
// It should return an error if the operation failed and needs to be retried.
type RetryableFunc func() error

// State is the position of a request loop in the retry state machine.
type State int

const (
	// StateAttempting means the next step is to issue attempt Step.Attempt.
	StateAttempting State = iota
	// StateWaitingRateLimit means the upstream quota is exhausted and the
	// loop sleeps until reset. The attempt counter is not advanced.
	StateWaitingRateLimit
	// StateSucceeded is terminal: a response was obtained.
	StateSucceeded
	// StateFailed is terminal: every attempt failed at transport level.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaitingRateLimit:
		return "waiting_rate_limit"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OutcomeKind classifies what a single attempt produced.
type OutcomeKind int

const (
	// OutcomeResponse means a response arrived, whatever its status code.
	OutcomeResponse OutcomeKind = iota
	// OutcomeRateLimited means the response signalled quota exhaustion.
	OutcomeRateLimited
	// OutcomeTransportError means no response arrived (DNS, connect, timeout).
	OutcomeTransportError
	// OutcomeWaitElapsed is fed by the driver after a rate-limit sleep.
	OutcomeWaitElapsed
)

// Outcome is the input of Transition.
type Outcome struct {
	Kind OutcomeKind
	// Wait is the time until the rate limit resets (OutcomeRateLimited only).
	Wait time.Duration
	Err  error
}

// Step is the state of the machine between two transitions.
type Step struct {
	State State
	// Attempt is the 1-based number of the attempt being (or last) made.
	Attempt int
	// RateLimitWaits counts the rate-limit sleeps taken so far.
	RateLimitWaits int
	// Delay is how long the driver sleeps before acting on State.
	Delay time.Duration
	// Err is the last transport error observed.
	Err error
}

// Config holds the configuration for retry behavior.
type Config struct {
	maxAttempts       int
	initialDelay      time.Duration
	maxDelay          time.Duration
	multiplier        float64
	rateLimitCap      time.Duration
	rateLimitPadding  time.Duration
	maxRateLimitWaits int
	sleep             func(ctx context.Context, d time.Duration) error
}

// Option is a functional option for configuring retry behavior.
type Option func(*Config)

// WithMaxRetries sets the number of retries after the first attempt.
// Default is 2 retries (3 attempts in total).
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxAttempts = n + 1
		}
	}
}

// WithMaxAttempts sets the total number of attempts, first one included.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the initial delay before the first retry.
// Default is 1 second.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.initialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
// Default is 30 seconds.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithMultiplier sets the exponential backoff multiplier.
// Default is 2.0 (doubles each retry).
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m > 0 {
			c.multiplier = m
		}
	}
}

// WithRateLimitCap sets the longest rate-limit reset the loop is willing to
// sleep for. Longer waits are not taken and the response is handed back.
// Default is 60 seconds.
func WithRateLimitCap(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.rateLimitCap = d
		}
	}
}

// WithMaxRateLimitWaits bounds how many rate-limit sleeps one request may take.
// Default is 3.
func WithMaxRateLimitWaits(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxRateLimitWaits = n
		}
	}
}

// WithSleeper replaces the context-aware sleep used between steps.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// defaultConfig returns the default retry configuration.
func defaultConfig() *Config {
	return &Config{
		maxAttempts:       3,
		initialDelay:      1 * time.Second,
		maxDelay:          30 * time.Second,
		multiplier:        2.0,
		rateLimitCap:      60 * time.Second,
		rateLimitPadding:  1 * time.Second,
		maxRateLimitWaits: 3,
		sleep:             sleepContext,
	}
}

// NewConfig applies opts on top of the defaults.
func NewConfig(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Start returns the initial step of the machine.
func Start() Step {
	return Step{State: StateAttempting, Attempt: 1}
}

// Transition is the pure transition function of the retry machine.
// Terminal states are returned unchanged.
func Transition(cfg *Config, s Step, o Outcome) Step {
	switch s.State {
	case StateAttempting:
		switch o.Kind {
		case OutcomeRateLimited:
			if o.Wait > 0 && o.Wait < cfg.rateLimitCap && s.RateLimitWaits < cfg.maxRateLimitWaits {
				return Step{
					State:          StateWaitingRateLimit,
					Attempt:        s.Attempt,
					RateLimitWaits: s.RateLimitWaits + 1,
					Delay:          o.Wait + cfg.rateLimitPadding,
					Err:            s.Err,
				}
			}
			// wait too long (or not computable): deliver the response as-is
			return Step{State: StateSucceeded, Attempt: s.Attempt, RateLimitWaits: s.RateLimitWaits, Err: s.Err}
		case OutcomeTransportError:
			if s.Attempt >= cfg.maxAttempts {
				return Step{State: StateFailed, Attempt: s.Attempt, RateLimitWaits: s.RateLimitWaits, Err: o.Err}
			}
			return Step{
				State:          StateAttempting,
				Attempt:        s.Attempt + 1,
				RateLimitWaits: s.RateLimitWaits,
				Delay:          calculateDelay(s.Attempt, cfg.initialDelay, cfg.maxDelay, cfg.multiplier),
				Err:            o.Err,
			}
		default:
			return Step{State: StateSucceeded, Attempt: s.Attempt, RateLimitWaits: s.RateLimitWaits, Err: s.Err}
		}
	case StateWaitingRateLimit:
		return Step{State: StateAttempting, Attempt: s.Attempt, RateLimitWaits: s.RateLimitWaits, Err: s.Err}
	default:
		return s
	}
}

// Run drives the machine until it reaches a terminal state. attempt is
// called with the 1-based attempt number.
//
// The returned error is non-nil when the machine failed or ctx was cancelled
// during a sleep; it wraps the last transport error or ctx.Err().
func Run(ctx context.Context, attempt func(ctx context.Context, n int) Outcome, opts ...Option) (Step, error) {
	if attempt == nil {
		return Step{State: StateFailed}, errors.New("retry: function cannot be nil")
	}
	cfg := NewConfig(opts...)

	step := Start()
	for {
		switch step.State {
		case StateSucceeded:
			return step, nil
		case StateFailed:
			return step, fmt.Errorf("retry failed after %d attempts: %w", step.Attempt, step.Err)
		}

		if step.Delay > 0 {
			if err := cfg.sleep(ctx, step.Delay); err != nil {
				return step, fmt.Errorf("retry aborted during backoff (attempt %d/%d): %w", step.Attempt, cfg.maxAttempts, err)
			}
			step.Delay = 0
		}

		if step.State == StateWaitingRateLimit {
			step = Transition(cfg, step, Outcome{Kind: OutcomeWaitElapsed})
			continue
		}

		// Check context before the next attempt
		if err := ctx.Err(); err != nil {
			return step, fmt.Errorf("retry aborted after %d attempts: %w", step.Attempt-1, err)
		}

		step = Transition(cfg, step, attempt(ctx, step.Attempt))
	}
}

// Do executes the provided function with exponential backoff retry logic.
// Every error returned by fn counts as a transport failure.
//
// Example usage:
//
//	err := common.Do(ctx, func() error {
//	    return someAPICall()
//	})
//
//	err := common.Do(ctx, fn,
//	    common.WithMaxRetries(5),
//	    common.WithInitialDelay(time.Second),
//	    common.WithMaxDelay(30*time.Second),
//	)
func Do(ctx context.Context, fn RetryableFunc, opts ...Option) error {
	if fn == nil {
		return errors.New("retry: function cannot be nil")
	}

	_, err := Run(ctx, func(ctx context.Context, n int) Outcome {
		if err := fn(); err != nil {
			return Outcome{Kind: OutcomeTransportError, Err: err}
		}
		return Outcome{Kind: OutcomeResponse}
	}, opts...)
	return err
}

// calculateDelay computes the delay for the current attempt using exponential backoff.
// The delay is capped at maxDelay.
func calculateDelay(attempt int, initialDelay, maxDelay time.Duration, multiplier float64) time.Duration {
	// For attempt 1: initialDelay * 1
	// For attempt 2: initialDelay * multiplier
	// For attempt 3: initialDelay * multiplier^2
	delay := float64(initialDelay) * math.Pow(multiplier, float64(attempt-1))

	if time.Duration(delay) > maxDelay {
		return maxDelay
	}

	return time.Duration(delay)
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
