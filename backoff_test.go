package godiscover

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	// ARRANGE
	backoff := NewBackoff()
	backoff.jitter = func() float64 { return 0.5 }

	// ACT & ASSERT
	assert.Equalf(t, 1500*time.Millisecond, backoff.Delay(1), "first attempt delay mismatch")
	assert.Equalf(t, 2500*time.Millisecond, backoff.Delay(2), "second attempt delay mismatch")
	assert.Equalf(t, 4500*time.Millisecond, backoff.Delay(3), "third attempt delay mismatch")
	assert.Equalf(t, backoff.Delay(1), backoff.Delay(0), "attempts below 1 expected to be treated as the first one")
}

func TestBackoffDelayCap(t *testing.T) {
	// ARRANGE
	backoff := Backoff{
		MaxRetries: 6,
		MaxDelay:   3 * time.Second,
		jitter:     func() float64 { return 0.5 },
	}

	// ACT & ASSERT
	assert.Equalf(t, 2500*time.Millisecond, backoff.Delay(2), "delay below the cap expected to stay uncapped")
	assert.Equalf(t, 3*time.Second, backoff.Delay(3), "delay expected to be capped by MaxDelay")
	assert.Equalf(t, 3*time.Second, backoff.Delay(10), "delay expected to be capped by MaxDelay")
}

func TestBackoffDelayDefaultJitter(t *testing.T) {
	// ARRANGE
	backoff := Backoff{MaxRetries: 6, MaxDelay: 60 * time.Second}

	// ACT
	delay := backoff.Delay(1)

	// ASSERT
	assert.GreaterOrEqualf(t, int64(delay), int64(time.Second), "delay expected to be at least the exponential component")
	assert.Lessf(t, int64(delay), int64(2*time.Second), "delay jitter expected to stay below one second")
}

func TestBackoffRetryable(t *testing.T) {
	// ARRANGE
	backoff := NewBackoff()
	cases := []struct {
		err       error
		retryable bool
	}{
		{newRequestError("GET", "http://catalog", 0, nil, fmt.Errorf("connection refused")), true},
		{newRequestError("GET", "http://catalog", 429, nil, nil), true},
		{newRequestError("GET", "http://catalog", 500, nil, nil), true},
		{newRequestError("GET", "http://catalog", 503, nil, nil), true},
		{newRequestError("GET", "http://catalog", 101, nil, nil), true},
		{newRequestError("GET", "http://catalog", 400, nil, nil), false},
		{newRequestError("GET", "http://catalog", 404, nil, nil), false},
		{newRequestError("GET", "http://catalog", 422, nil, nil), false},
		{fmt.Errorf("wrapped: %w", newRequestError("GET", "http://catalog", 502, nil, nil)), true},
		{&DecodeError{Format: FormatUMMJSON, Err: fmt.Errorf("bad json")}, false},
		{fmt.Errorf("plain error"), false},
	}

	// ACT & ASSERT
	for _, c := range cases {
		assert.Equalf(t, c.retryable, backoff.Retryable(c.err), "retryable classification mismatch for %v", c.err)
	}
}

func TestRequestErrorMessage(t *testing.T) {
	// ARRANGE
	body := []byte(`{"errors": ["Granule not found", {"code": 42}]}`)

	// ACT
	err := newRequestError("PUT", "http://catalog/granules/G1", 404, body, nil)

	// ASSERT
	assert.Equalf(t, []string{"Granule not found", `{"code":42}`}, err.Errors, "structured error list mismatch")
	assert.Containsf(t, err.Error(), "PUT http://catalog/granules/G1 failed with status 404", "message transport part mismatch")
	assert.Containsf(t, err.Error(), "Granule not found", "message expected to carry the catalog diagnostics")
}
