package godiscover

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientOption is a type that modifies the default Client behaviour.
type ClientOption func(c *Client)

// ClientWithHTTPClient makes the client issue requests through the passed http.Client.
var ClientWithHTTPClient = func(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// ClientWithBackoff makes the client retry failed requests according to the passed backoff.
var ClientWithBackoff = func(backoff Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = backoff
	}
}

// ClientWithLogger enhances the client with the passed logger.
var ClientWithLogger = func(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// ClientWithMetricsTracker makes the client track metrics using the specified MetricsTracker.
var ClientWithMetricsTracker = func(tracker MetricsTracker) ClientOption {
	return func(c *Client) {
		c.metrics = tracker
	}
}

// NewClient returns a catalog HTTP client preconfigured with the default backoff policy.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		hc:      http.DefaultClient,
		backoff: NewBackoff(),
		logger:  buildDefaultLogger("client"),
		metrics: defaultMetricsTracker,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.Add(clientRequestMetricName, "Time taken to perform a single catalog request including retries")
	return c
}

// Client issues HTTP requests against the remote catalog, transparently retrying
// transient failures with randomized exponential backoff. It is shared by the search
// client and the publisher.
type Client struct {
	hc      *http.Client
	backoff Backoff
	logger  *zap.Logger
	metrics MetricsTracker
}

const clientRequestMetricName = "client_request"

// Do performs the passed request, retrying transient failures up to the backoff retry
// limit. A response is returned for every completed exchange regardless of its status;
// after the retries are exhausted the last failure is returned as a *RequestError.
// Requests carrying a body must be built so that GetBody is populated (as done by
// http.NewRequest for the common body reader types).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	defer func() {
		c.metrics.Set(clientRequestMetricName, fmt.Sprintf("%d", time.Since(start).Microseconds()))
	}()
	var lastErr *RequestError
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err == nil {
			body, _ := ioutil.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = newRequestError(req.Method, req.URL.String(), resp.StatusCode, body, nil)
		} else {
			lastErr = newRequestError(req.Method, req.URL.String(), 0, nil, err)
		}
		if attempt > c.backoff.MaxRetries {
			return nil, lastErr
		}
		requestRetries.Inc()
		delay := c.backoff.Delay(attempt)
		c.logger.Info("retrying a failed catalog request",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt),
			zap.NamedError("error_message", lastErr),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// DoOnce performs the passed request exactly once, without any retry. It is meant for
// best-effort calls such as releasing a scroll session.
func (c *Client) DoOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.hc.Do(req.WithContext(ctx))
}

// attempt performs a single request attempt with a fresh body reader.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attemptReq.Body = body
	}
	return c.hc.Do(attemptReq)
}
