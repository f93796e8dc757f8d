package godiscover

import (
	"encoding/json"
	"fmt"
	"strings"
)

// newRequestError builds a *RequestError out of a finished catalog HTTP exchange.
// If the response body carries a structured error list ({"errors": [...]}), the list
// entries are extracted so that the result error message combines the transport level
// information with the catalog's own diagnostics.
func newRequestError(method, url string, status int, body []byte, err error) *RequestError {
	e := &RequestError{
		Method: method,
		URL:    url,
		Status: status,
		Body:   string(body),
		Err:    err,
	}
	e.Errors = extractErrorList(body)
	return e
}

// RequestError represents a failed request to the remote catalog. It keeps the
// transport level context together with the structured error list extracted from
// the response body, if any.
type RequestError struct {
	Method string   `json:"method"`
	URL    string   `json:"url"`
	Status int      `json:"status,omitempty"`
	Errors []string `json:"errors,omitempty"`
	Body   string   `json:"-"`
	Err    error    `json:"-"`
}

// Error makes the RequestError type implement the error interface. The message combines
// the underlying transport message with the response structured error list.
func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Method, e.URL)
	if e.Status != 0 {
		fmt.Fprintf(&b, " with status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Errors) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Errors, "; "))
	}
	return b.String()
}

// Unwrap exposes the underlying transport error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request failure is worth another attempt. Failures are
// retryable when the response is absent (network or timeout error) or carries a 429,
// a 5xx or a 1xx status.
func (e *RequestError) Retryable() bool {
	return retryableStatus(e.Status)
}

// retryableStatus reports whether the passed response status classifies the request
// as retryable. A zero status stands for an absent response.
func retryableStatus(status int) bool {
	return status == 0 || status == 429 || status >= 500 || (status >= 100 && status < 200)
}

// extractErrorList pulls the list of error messages out of a response body of the
// {"errors": [...]} shape. List entries that are not plain strings are rendered as
// their JSON representation. A body of any other shape yields no entries.
func extractErrorList(body []byte) []string {
	var envelope struct {
		Errors []interface{} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(envelope.Errors))
	for _, entry := range envelope.Errors {
		if message, ok := entry.(string); ok {
			messages = append(messages, message)
			continue
		}
		if raw, err := json.Marshal(entry); err == nil {
			messages = append(messages, string(raw))
		}
	}
	return messages
}

// DecodeError represents a failure to decode a search response body in the requested
// format. Decode failures are configuration errors and are never retried; the raw body
// is preserved for diagnosis.
type DecodeError struct {
	Format ResponseFormat `json:"format"`
	Body   string         `json:"body"`
	Err    error          `json:"-"`
}

// Error makes the DecodeError type implement the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode a %s response: %v: %s", e.Format, e.Err, e.Body)
}

// Unwrap exposes the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DuplicateGranuleError signals that a granule already known to the target catalog has
// been discovered under the "error" duplicate handling policy. It aborts the whole
// discovery run, not merely the one record.
type DuplicateGranuleError struct {
	GranuleID string `json:"granule_id"`
}

// Error makes the DuplicateGranuleError type implement the error interface.
func (e *DuplicateGranuleError) Error() string {
	return fmt.Sprintf("duplicate granule found: %s is already recorded in the target catalog", e.GranuleID)
}
