// Package retry provides bounded retry with flat randomized backoff for
// backend acquisition.
package retry

import (
	stderr "errors"
	"math/rand"
	"time"

	"github.com/iabetor/chdfs-go/pkg/errors"
)

// Config defines retry behavior configuration.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MinDelay and MaxDelay bound the randomized backoff. The delay before
	// each retry is a uniform draw in [MinDelay, MaxDelay). Flat jitter, not
	// exponential: many adapters bootstrap against the same endpoint at once
	// and must not retry in lockstep.
	MinDelay time.Duration
	MaxDelay time.Duration

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// DefaultConfig returns the acquisition retry protocol: 6 total attempts
// with a uniform 500ms-2s pause between them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 6,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    2000 * time.Millisecond,
	}
}

// Retryer executes functions under the bounded retry protocol.
type Retryer struct {
	config Config
	rng    *rand.Rand
}

// New creates a Retryer, applying defaults for zero values.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 6
	}
	if config.MinDelay <= 0 {
		config.MinDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= config.MinDelay {
		config.MaxDelay = config.MinDelay + 1500*time.Millisecond
	}
	if config.sleep == nil {
		config.sleep = time.Sleep
	}
	return &Retryer{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSleep returns a Retryer whose backoff sleep is replaced, for tests.
func (r *Retryer) WithSleep(sleep func(time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.sleep = sleep
	return New(newConfig)
}

// Do executes fn until it succeeds, fails with a non-retryable error, or
// exhausts MaxAttempts. The backoff sleep is not cancelable: once a pause
// begins it runs to completion and the next attempt proceeds.
func (r *Retryer) Do(fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == r.config.MaxAttempts {
			return lastErr
		}

		delay := r.calculateDelay()
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		r.config.sleep(delay)
	}

	return lastErr
}

// shouldRetry reports whether an error is transient.
func shouldRetry(err error) bool {
	var coded *errors.Error
	if stderr.As(err, &coded) {
		return coded.Retryable
	}
	return false
}

// calculateDelay draws the next pause uniformly from [MinDelay, MaxDelay).
func (r *Retryer) calculateDelay() time.Duration {
	span := int64(r.config.MaxDelay - r.config.MinDelay)
	return r.config.MinDelay + time.Duration(r.rng.Int63n(span))
}
