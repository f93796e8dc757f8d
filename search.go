package godiscover

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

const (
	// SearchTypeGranules addresses the granule search endpoint.
	SearchTypeGranules = "granules"
	// SearchTypeCollections addresses the collection search endpoint.
	SearchTypeCollections = "collections"

	// defaultPageSize is the page size requested unless overridden.
	defaultPageSize = 2000
	// hitsHeader declares the search total hit count on every response.
	hitsHeader = "Cmr-Hits"
	// scrollIDHeader carries the opaque scroll session token.
	scrollIDHeader = "Cmr-Scroll-Id"
	// searchFetchPageMetricName measures the time taken to fetch one result page.
	searchFetchPageMetricName = "search_fetch_page"
	// scrollReleaseTimeout bounds the best-effort clear-scroll call.
	scrollReleaseTimeout = 10 * time.Second
)

// SearchConfig represents the Search configurable fields model. The parameter and
// header maps are canonicalized once, before the first page is fetched, and stay
// immutable for the life of the search.
type SearchConfig struct {
	// Host is the base URL of the remote catalog. E.g. https://cmr.example.org.
	Host string `validate:"required,url"`
	// Type is the searched resource type, granules or collections.
	Type string `validate:"required"`
	// Format defines the requested response format. Defaults to umm_json.
	Format ResponseFormat
	// Headers are extra request headers sent with every page request.
	Headers map[string]string
	// Params are the search filter parameters in any casing.
	Params map[string]interface{}
	// PageSize overrides the default page size of 2000.
	PageSize int
	// DisableScroll turns the scrolled pagination off in favour of numbered pages.
	// Scrolling is requested unless explicitly turned off.
	DisableScroll bool
}

// pageState is the pagination cursor of a search: exactly one of the two variants is
// active. A scroll token, once obtained, supersedes page numbers for all subsequent
// requests of the search.
type pageState struct {
	token   string
	pageNum int
}

// next is the pure transition producing the state for the following request out of the
// previous state plus the token observed on the latest response.
func (s pageState) next(token string) pageState {
	if token != "" {
		return pageState{token: token}
	}
	if s.token != "" {
		return s
	}
	return pageState{pageNum: s.pageNum + 1}
}

// SearchOption is a type that modifies the default Search behaviour.
type SearchOption func(s *Search)

// SearchWithLogger enhances the search with the passed logger.
var SearchWithLogger = func(logger *zap.Logger) SearchOption {
	return func(s *Search) {
		s.logger = logger
	}
}

// SearchWithMetricsTracker makes the search track metrics using the specified MetricsTracker.
var SearchWithMetricsTracker = func(tracker MetricsTracker) SearchOption {
	return func(s *Search) {
		s.metrics = tracker
	}
}

// NewSearch returns a validated search over the remote catalog exposing the paged or
// scrolled result set as one lazy record sequence.
func NewSearch(cfg SearchConfig, client *Client, opts ...SearchOption) (*Search, error) {
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("the passed SearchConfig is invalid: %v", err)
	}
	if cfg.Format == "" {
		cfg.Format = FormatUMMJSON
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	s := &Search{
		cfg:     cfg,
		client:  client,
		query:   buildSearchQuery(cfg),
		headers: CanonicalHeaders(cfg.Headers),
		state:   pageState{pageNum: 1},
		logger:  buildDefaultLogger("search"),
		metrics: defaultMetricsTracker,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.Add(searchFetchPageMetricName, "Time taken to fetch and decode a single search result page")
	return s, nil
}

// buildSearchQuery canonicalizes the configured search parameters and completes them
// with the pagination parameters: the page size and, unless turned off, the scroll
// request flag.
func buildSearchQuery(cfg SearchConfig) map[string]interface{} {
	params := CanonicalQuery(cfg.Params)
	if _, ok := params["page_size"]; !ok {
		params["page_size"] = strconv.Itoa(cfg.PageSize)
	}
	if !cfg.DisableScroll {
		params[scrollParam] = "true"
		delete(params, pageNumParam)
	}
	return params
}

// Search turns the remote catalog's page or scroll based search protocol into a single
// lazy record sequence. It is not safe for concurrent use.
type Search struct {
	cfg     SearchConfig
	client  *Client
	logger  *zap.Logger
	metrics MetricsTracker

	query   map[string]interface{}
	headers map[string]string
	state   pageState
	// releaseToken is the scroll token to release on close, kept from the first
	// response that carried one.
	releaseToken string
	hits         int
	haveHits     bool
	cumulative   int
	buffer       []RawRecord
	done         bool
	closed       bool
}

// Next returns the next decoded record of the result set, fetching further pages on
// demand. The second result is false once the sequence is exhausted; exhaustion and
// errors both release the server-side scroll session.
func (s *Search) Next(ctx context.Context) (RawRecord, bool, error) {
	for len(s.buffer) == 0 && !s.done {
		if err := s.fetchPage(ctx); err != nil {
			s.Close()
			return nil, false, err
		}
	}
	if len(s.buffer) == 0 {
		s.Close()
		return nil, false, nil
	}
	record := s.buffer[0]
	s.buffer = s.buffer[1:]
	return record, true, nil
}

// Hits returns the total hit count declared by the first fetched page.
func (s *Search) Hits() int {
	return s.hits
}

// fetchPage issues one page request and appends the decoded records to the read
// buffer. An empty page marks the sequence as exhausted. A 404 response is treated as
// an empty page when and only when the cumulative record count already equals the
// declared hit total; the upstream service answers that way at the end of a scrolled
// search, an assumption to validate against the real service rather than a contract.
func (s *Search) fetchPage(ctx context.Context) error {
	start := time.Now()
	pageURL := s.buildPageURL()
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}
	if s.state.token != "" {
		req.Header.Set(scrollIDHeader, s.state.token)
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return err
	}
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return newRequestError(http.MethodGet, pageURL, resp.StatusCode, nil, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		if s.haveHits && s.hits > 0 && s.cumulative >= s.hits {
			s.logger.Info("search page returned 404 at the declared hit total, treating as end of results",
				zap.Int("running_count", s.cumulative),
				zap.Int("total_hits", s.hits),
			)
			s.done = true
			return nil
		}
		return newRequestError(http.MethodGet, pageURL, resp.StatusCode, body, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return newRequestError(http.MethodGet, pageURL, resp.StatusCode, body, nil)
	}
	if !s.haveHits {
		if hits, err := strconv.Atoi(resp.Header.Get(hitsHeader)); err == nil {
			s.hits = hits
			s.haveHits = true
		}
	}
	if token := resp.Header.Get(scrollIDHeader); token != "" && s.releaseToken == "" {
		s.releaseToken = token
	}
	records, err := DecodeRecords(s.cfg.Format, body, s.logger)
	if err != nil {
		return err
	}
	s.cumulative += len(records)
	s.logger.Info("search page fetched",
		zap.Int("running_count", s.cumulative),
		zap.Int("total_hits", s.hits),
		zap.Int("status", resp.StatusCode),
		zap.String("url", pageURL),
	)
	pagesFetched.Inc()
	s.metrics.Set(searchFetchPageMetricName, fmt.Sprintf("%d", time.Since(start).Microseconds()))
	if len(records) == 0 {
		s.done = true
		return nil
	}
	s.buffer = append(s.buffer, records...)
	s.state = s.state.next(resp.Header.Get(scrollIDHeader))
	return nil
}

// buildPageURL renders the effective URL of the next page request. The explicit page
// number is carried only while no scroll token has been obtained and scrolling is
// turned off; a scrolled search keeps the query constant and continues via the scroll
// token header instead.
func (s *Search) buildPageURL() string {
	values := url.Values{}
	for name, value := range s.query {
		switch v := value.(type) {
		case []string:
			for _, entry := range v {
				values.Add(name, entry)
			}
		case []interface{}:
			for _, entry := range v {
				values.Add(name, fmt.Sprintf("%v", entry))
			}
		default:
			values.Add(name, fmt.Sprintf("%v", v))
		}
	}
	if s.cfg.DisableScroll && s.state.token == "" {
		values.Set(pageNumParam, strconv.Itoa(s.state.pageNum))
	}
	return fmt.Sprintf("%s/search/%s.%s?%s", s.cfg.Host, s.cfg.Type, s.cfg.Format, values.Encode())
}

// Close releases the server-side scroll session, if one has been opened. The release
// is best-effort: failures are logged, never raised, and never block closing. It is
// issued at most once per search and runs under its own short-lived context so that
// a consumer cancelling the search does not leak the server-side session.
func (s *Search) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.releaseToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), scrollReleaseTimeout)
	defer cancel()
	payload := []byte(fmt.Sprintf(`{"scroll_id": %q}`, s.releaseToken))
	req, err := http.NewRequest(http.MethodPost, s.cfg.Host+"/search/clear-scroll", bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("failed to build the clear-scroll request", zap.NamedError("error_message", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.DoOnce(ctx, req)
	if err != nil {
		s.logger.Warn("failed to release the scroll session",
			zap.String("scroll_id", s.releaseToken),
			zap.NamedError("error_message", err),
		)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("the scroll session release has been rejected",
			zap.String("scroll_id", s.releaseToken),
			zap.Int("status", resp.StatusCode),
		)
	}
}
