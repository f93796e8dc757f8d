package godiscover

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// testBackoff returns a backoff with near-zero delays so that retry scenarios run fast.
func testBackoff(maxRetries int) Backoff {
	return Backoff{
		MaxRetries: maxRetries,
		MaxDelay:   time.Millisecond,
		jitter:     func() float64 { return 0 },
	}
}

func TestClientDoRetriesTransientFailures(t *testing.T) {
	// ARRANGE
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&requests, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprint(w, "ok")
		}
	}))
	defer server.Close()
	client := NewClient(ClientWithBackoff(testBackoff(6)), ClientWithLogger(zap.NewNop()))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	// ACT
	resp, err := client.Do(context.Background(), req)

	// ASSERT
	assert.NoErrorf(t, err, "request expected to succeed after the retries")
	if assert.NotNilf(t, resp, "response expected to be returned") {
		body, _ := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equalf(t, http.StatusOK, resp.StatusCode, "status mismatch")
		assert.Equalf(t, "ok", string(body), "body mismatch")
	}
	assert.Equalf(t, int32(3), atomic.LoadInt32(&requests), "requests number mismatch")
}

func TestClientDoRetriesExhausted(t *testing.T) {
	// ARRANGE
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"errors": ["upstream is down"]}`)
	}))
	defer server.Close()
	client := NewClient(ClientWithBackoff(testBackoff(2)), ClientWithLogger(zap.NewNop()))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	// ACT
	resp, err := client.Do(context.Background(), req)

	// ASSERT
	assert.Nilf(t, resp, "response expected to be nil once the retries are exhausted")
	var reqErr *RequestError
	if assert.ErrorAsf(t, err, &reqErr, "the last failure expected to be returned as a *RequestError") {
		assert.Equalf(t, http.StatusBadGateway, reqErr.Status, "error status mismatch")
		assert.Equalf(t, []string{"upstream is down"}, reqErr.Errors, "error list mismatch")
	}
	assert.Equalf(t, int32(3), atomic.LoadInt32(&requests), "requests number expected to be the initial attempt plus two retries")
}

func TestClientDoFatalStatusReturnsResponse(t *testing.T) {
	// ARRANGE
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	client := NewClient(ClientWithBackoff(testBackoff(6)), ClientWithLogger(zap.NewNop()))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	// ACT
	resp, err := client.Do(context.Background(), req)

	// ASSERT
	assert.NoErrorf(t, err, "a completed exchange expected to be returned regardless of its status")
	if assert.NotNilf(t, resp, "response expected to be returned") {
		resp.Body.Close()
		assert.Equalf(t, http.StatusNotFound, resp.StatusCode, "status mismatch")
	}
	assert.Equalf(t, int32(1), atomic.LoadInt32(&requests), "a fatal status expected not to be retried")
}

func TestClientDoResendsBody(t *testing.T) {
	// ARRANGE
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	client := NewClient(ClientWithBackoff(testBackoff(6)), ClientWithLogger(zap.NewNop()))
	req, _ := http.NewRequest(http.MethodPut, server.URL, strings.NewReader("payload"))

	// ACT
	resp, err := client.Do(context.Background(), req)

	// ASSERT
	assert.NoErrorf(t, err, "request expected to succeed after the retry")
	if resp != nil {
		resp.Body.Close()
	}
	assert.Equalf(t, []string{"payload", "payload"}, bodies, "every attempt expected to carry the full request body")
}

func TestClientDoContextCancellation(t *testing.T) {
	// ARRANGE
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	backoff := Backoff{MaxRetries: 6, MaxDelay: time.Minute, jitter: func() float64 { return 0 }}
	client := NewClient(ClientWithBackoff(backoff), ClientWithLogger(zap.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// ACT
	start := time.Now()
	_, err := client.Do(ctx, req)

	// ASSERT
	assert.Equalf(t, context.Canceled, err, "cancellation expected to interrupt the retry wait")
	assert.Lessf(t, int64(time.Since(start)), int64(time.Second), "cancellation expected to short-cut the delay")
}
