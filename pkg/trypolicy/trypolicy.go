// Package trypolicy polls a condition until it holds or a maximum duration
// elapses. It's used for every interaction with the counterparty's ledger,
// where "not yet" is the normal answer.
package trypolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultMaxDuration ...
	DefaultMaxDuration = 2400 * time.Second
	// DefaultInterval ...
	DefaultInterval = time.Second
)

var (
	// ErrTimeout is returned when the condition didn't hold within
	// MaxDuration.
	ErrTimeout = errors.New("try policy expired")
	// ErrInvalidPolicy ...
	ErrInvalidPolicy = errors.New(
		"try policy interval and max duration must be positive",
	)
)

// Policy bounds a polling loop.
type Policy struct {
	MaxDuration time.Duration
	Interval    time.Duration
}

// Default returns the policy used when none is configured.
func Default() Policy {
	return Policy{
		MaxDuration: DefaultMaxDuration,
		Interval:    DefaultInterval,
	}
}

// Validate ...
func (p Policy) Validate() error {
	if p.MaxDuration <= 0 || p.Interval <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

func (p Policy) String() string {
	return fmt.Sprintf("max %s every %s", p.MaxDuration, p.Interval)
}

// TimeoutError carries the details of an expired policy. It matches
// ErrTimeout with errors.Is.
type TimeoutError struct {
	Waited   time.Duration
	Attempts int
	// LastErr is the last retriable error returned by the attempt, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s after %d attempts in %s", ErrTimeout, e.Attempts, e.Waited)
	if e.LastErr != nil {
		msg = fmt.Sprintf("%s, last error: %s", msg, e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Attempt is a single try. It returns done=true once the awaited condition
// holds.
type Attempt func(ctx context.Context) (done bool, err error)

// Runner executes attempts according to a Policy.
type Runner struct {
	Policy Policy
	Clock  clock.Clock
	// IsRetriable classifies errors returned by an attempt. Retriable
	// errors don't interrupt the loop. If nil, every error is final.
	IsRetriable func(error) bool
	// OnRetry, if set, is called after every unsuccessful attempt.
	OnRetry func(attempt int, err error)
}

// NewRunner returns a Runner backed by the default wall clock.
func NewRunner(policy Policy, isRetriable func(error) bool) Runner {
	return Runner{
		Policy:      policy,
		Clock:       clock.NewDefaultClock(),
		IsRetriable: isRetriable,
	}
}

// Run calls attempt until it reports done, returns a non retriable error, the
// context is canceled or the policy expires. The first attempt is made
// immediately, the following ones every Interval.
func (r Runner) Run(ctx context.Context, attempt Attempt) error {
	if err := r.Policy.Validate(); err != nil {
		return err
	}
	clk := r.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	start := clk.Now()
	deadline := start.Add(r.Policy.MaxDuration)

	var lastErr error
	for attempts := 1; ; attempts++ {
		done, err := attempt(ctx)
		if err != nil {
			if r.IsRetriable == nil || !r.IsRetriable(err) {
				return err
			}
			lastErr = err
		}
		if done && err == nil {
			return nil
		}
		if r.OnRetry != nil {
			r.OnRetry(attempts, err)
		}

		now := clk.Now()
		if !now.Before(deadline) {
			return &TimeoutError{
				Waited:   now.Sub(start),
				Attempts: attempts,
				LastErr:  lastErr,
			}
		}

		wait := r.Policy.Interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}

		select {
		case <-clk.TickAfter(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
