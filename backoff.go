package godiscover

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	// defaultMaxRetries is the number of retries performed in addition to the initial
	// attempt of a request.
	defaultMaxRetries = 6
	// defaultMaxDelay caps the computed retry delay.
	defaultMaxDelay = 60 * time.Second
)

// NewBackoff returns a Backoff with the default retry count and delay cap.
func NewBackoff() Backoff {
	return Backoff{
		MaxRetries: defaultMaxRetries,
		MaxDelay:   defaultMaxDelay,
		jitter:     rand.Float64,
	}
}

// Backoff computes randomized exponential retry delays and classifies request failures
// as retryable or fatal.
type Backoff struct {
	// MaxRetries is the number of retries allowed in addition to the initial attempt.
	MaxRetries int
	// MaxDelay is the upper bound for a single computed delay.
	MaxDelay time.Duration
	// jitter produces the random [0,1) delay component. Tests replace it to get
	// deterministic delays.
	jitter func() float64
}

// Delay returns the wait duration before retrying after the given 1-based failed
// attempt: min(MaxDelay, (2^(attempt-1) + jitter) seconds).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	jitter := b.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	delay := time.Duration((math.Pow(2, float64(attempt-1)) + jitter()) * float64(time.Second))
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// Retryable reports whether the passed error describes a failure that another attempt
// could fix. Absent responses and 429/5xx/1xx statuses qualify, anything else, decode
// failures included, is fatal right away.
func (b Backoff) Retryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return false
}
