package godiscover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

const (
	// echo10ContentType is the content type of the published metadata documents.
	echo10ContentType = "application/echo10+xml"
	// parentChangeMessage is the catalog error message fragment identifying a rejected
	// parent collection reassignment.
	parentChangeMessage = "parent collection cannot be changed"
)

// PublishConfig represents the Publisher configurable fields model.
type PublishConfig struct {
	// Host is the base URL of the remote catalog. E.g. https://cmr.example.org.
	Host string `validate:"required,url"`
	// Provider is the ingest provider id the granules are published under.
	Provider string `validate:"required"`
}

// PublisherOption is a type that modifies the default Publisher behaviour.
type PublisherOption func(p *Publisher)

// PublisherWithLogger enhances the publisher with the passed logger.
var PublisherWithLogger = func(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher returns a validated metadata publisher for the configured provider.
func NewPublisher(cfg PublishConfig, client *Client, opts ...PublisherOption) (*Publisher, error) {
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("the passed PublishConfig is invalid: %v", err)
	}
	p := &Publisher{
		cfg:    cfg,
		client: client,
		logger: buildDefaultLogger("publish"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publisher publishes granule metadata documents into the catalog, resolving the
// parent-change conflict class via a delete-then-retry protocol.
type Publisher struct {
	cfg    PublishConfig
	client *Client
	logger *zap.Logger
}

// PublishGranule publishes the passed metadata document under the granule id. Two
// recovery paths are applied: a 422 response whose error list names the unchangeable
// parent collection triggers one unpublish followed by exactly one republish, and a
// 409 response for an id constructed with a "<dataType>." prefix triggers one retry
// with that prefix stripped. Any further failure is fatal.
func (p *Publisher) PublishGranule(ctx context.Context, granuleID, dataType string, metadata []byte) error {
	err := p.publish(ctx, granuleID, metadata)
	if err == nil {
		return nil
	}
	prefix := dataType + "."
	if dataType != "" && requestStatus(err) == http.StatusConflict && strings.HasPrefix(granuleID, prefix) {
		stripped := strings.TrimPrefix(granuleID, prefix)
		p.logger.Info("publish has been rejected with a conflict, retrying without the data type prefix",
			zap.String("granule_id", granuleID),
			zap.String("retry_granule_id", stripped),
		)
		return p.publish(ctx, stripped, metadata)
	}
	return err
}

// publish performs one publish attempt together with the parent-change conflict
// recovery: on detection the granule is unpublished (a failure there is fatal) and the
// original document is republished exactly once, its outcome being final.
func (p *Publisher) publish(ctx context.Context, granuleID string, metadata []byte) error {
	err := p.put(ctx, granuleID, metadata)
	if err == nil {
		return nil
	}
	if !isParentChangeConflict(err) {
		return err
	}
	p.logger.Info("the granule parent collection has changed, unpublishing before the retry",
		zap.String("granule_id", granuleID),
	)
	if unpublishErr := p.Unpublish(ctx, granuleID); unpublishErr != nil {
		return fmt.Errorf("failed to unpublish the conflicting granule %s: %v", granuleID, unpublishErr)
	}
	return p.put(ctx, granuleID, metadata)
}

// Unpublish deletes the granule metadata from the catalog.
func (p *Publisher) Unpublish(ctx context.Context, granuleID string) error {
	req, err := http.NewRequest(http.MethodDelete, p.granuleURL(granuleID), nil)
	if err != nil {
		return err
	}
	return p.expectSuccess(ctx, req)
}

// ValidateGranule validates the passed metadata document against the catalog without
// publishing it.
func (p *Publisher) ValidateGranule(ctx context.Context, granuleID string, metadata []byte) error {
	validateURL := fmt.Sprintf("%s/ingest/providers/%s/validate/granule/%s",
		p.cfg.Host, p.cfg.Provider, url.PathEscape(granuleID))
	req, err := http.NewRequest(http.MethodPost, validateURL, bytes.NewReader(metadata))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", echo10ContentType)
	return p.expectSuccess(ctx, req)
}

// put issues the metadata PUT request.
func (p *Publisher) put(ctx context.Context, granuleID string, metadata []byte) error {
	req, err := http.NewRequest(http.MethodPut, p.granuleURL(granuleID), bytes.NewReader(metadata))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", echo10ContentType)
	return p.expectSuccess(ctx, req)
}

// granuleURL renders the ingest URL of the passed granule id.
func (p *Publisher) granuleURL(granuleID string) string {
	return fmt.Sprintf("%s/ingest/providers/%s/granules/%s", p.cfg.Host, p.cfg.Provider, url.PathEscape(granuleID))
}

// expectSuccess performs the request and converts every non-2xx outcome into a
// *RequestError enhanced with the response structured error list.
func (p *Publisher) expectSuccess(ctx context.Context, req *http.Request) error {
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := ioutil.ReadAll(resp.Body)
	return newRequestError(req.Method, req.URL.String(), resp.StatusCode, body, nil)
}

// isParentChangeConflict reports whether the passed error is the specific 422 conflict
// caused by attempting to reassign the granule's previously published parent collection.
func isParentChangeConflict(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusUnprocessableEntity {
		return false
	}
	for _, message := range reqErr.Errors {
		if strings.Contains(strings.ToLower(message), parentChangeMessage) {
			return true
		}
	}
	return false
}

// requestStatus extracts the response status out of the passed error, zero standing
// for an absent response.
func requestStatus(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	return 0
}
