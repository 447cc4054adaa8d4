package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

var (
	// MinNumOfRequests is the number of requests after which the breaker starts
	// evaluating the failing ratio.
	MinNumOfRequests uint32 = 5
	// FailingRatio ...
	FailingRatio = 0.6
	// OpenTimeout is how long the breaker stays open before letting a trial
	// request through.
	OpenTimeout = 30 * time.Second
)

// Option customizes the settings of a circuit breaker.
type Option func(*gobreaker.Settings)

// WithTimeout sets the period of the open state.
func WithTimeout(timeout time.Duration) Option {
	return func(s *gobreaker.Settings) {
		s.Timeout = timeout
	}
}

// WithThreshold replaces the default trip condition.
func WithThreshold(minRequests uint32, ratio float64) Option {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = readyToTrip(minRequests, ratio)
	}
}

// WithStateChangeHook registers a function called every time the breaker
// changes state.
func WithStateChangeHook(
	hook func(name string, from, to gobreaker.State),
) Option {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = hook
	}
}

// NewCircuitBreaker is a factory function returning a named
// *gobreaker.CircuitBreaker that trips once at least MinNumOfRequests were
// made in the current interval and the failing ratio has met FailingRatio.
func NewCircuitBreaker(name string, opts ...Option) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		Timeout:     OpenTimeout,
		ReadyToTrip: readyToTrip(MinNumOfRequests, FailingRatio),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func readyToTrip(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests {
			return false
		}
		failingRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return failingRatio >= ratio
	}
}
