package godiscover

import (
	"context"
	"fmt"
	"time"

	"github.com/divideandconquer/go-merge/merge"
	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

const (
	// defaultReadAhead bounds the number of discovered granules buffered ahead of the
	// consumer. Once the buffer is full no further page fetch is issued.
	defaultReadAhead = 100
	// discoverRunMetricName measures a whole discovery run.
	discoverRunMetricName = "discover_run"
)

// buildDefaultLogger creates the default logger which commits the debug and higher
// level logs supplemented with the passed name as the "context" field value.
func buildDefaultLogger(context string) *zap.Logger {
	logger, _ := zap.NewDevelopment()
	logger = logger.With(zap.String("context", context))
	return logger
}

// CollectionRef names the collection a discovery is about.
type CollectionRef struct {
	ShortName string `validate:"required"`
	Version   string `validate:"required"`
}

// DiscoveryConfig represents a structure for the Discovery config, mirroring the
// inbound invocation contract of the orchestration layer.
type DiscoveryConfig struct {
	// Stack is the name of the invoking deployment, carried through to the result meta.
	Stack string
	// Host is the base URL of the remote catalog provider.
	Host string `validate:"required,url"`
	// Collection is the collection to discover granules for.
	Collection CollectionRef `validate:"required"`
	// DuplicateHandling overrides the collection default duplicate handling policy for
	// the discovery's own already-seen check.
	DuplicateHandling DuplicatePolicy
	// IngestDuplicateHandling is the duplicate handling policy handed to the downstream
	// ingest. Defaults to the resolved discovery value.
	IngestDuplicateHandling DuplicatePolicy
	// SearchHeaders are extra headers sent with every search request.
	SearchHeaders map[string]string
	// SearchParams are caller-supplied search filters merged over the default query,
	// the caller entries winning on key conflicts.
	SearchParams map[string]interface{}
	// IngestProviderID and IngestCollection address the downstream ingest target.
	IngestProviderID string
	IngestCollection string
	// PageSize overrides the search page size.
	PageSize int
	// ReadAhead bounds the output stream buffer. Defaults to 100.
	ReadAhead int
}

// Validate validates the DiscoveryConfig fields.
func (c *DiscoveryConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.DuplicateHandling != "" && !c.DuplicateHandling.Valid() {
		return fmt.Errorf("invalid DuplicateHandling value %q", c.DuplicateHandling)
	}
	if c.IngestDuplicateHandling != "" && !c.IngestDuplicateHandling.Valid() {
		return fmt.Errorf("invalid IngestDuplicateHandling value %q", c.IngestDuplicateHandling)
	}
	return nil
}

// DiscoveryOption is a type that modifies the default Discovery behaviour.
type DiscoveryOption func(d *Discovery)

// DiscoveryWithLogger enhances the discovery with the passed logger.
var DiscoveryWithLogger = func(logger *zap.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// DiscoveryWithMetricsTracker makes the discovery track metrics using the specified
// MetricsTracker.
var DiscoveryWithMetricsTracker = func(tracker MetricsTracker) DiscoveryOption {
	return func(d *Discovery) {
		d.metrics = tracker
	}
}

// NewDiscovery returns a preconfigured discovery pipeline. The collection source and
// the registry are consumed as black-box lookups.
func NewDiscovery(
	cfg DiscoveryConfig,
	client *Client,
	collections CollectionSource,
	registry Registry,
	opts ...DiscoveryOption,
) (*Discovery, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("the passed DiscoveryConfig is invalid: %v", err)
	}
	if cfg.ReadAhead <= 0 {
		cfg.ReadAhead = defaultReadAhead
	}
	d := &Discovery{
		cfg:         cfg,
		client:      client,
		collections: collections,
		registry:    registry,
		logger:      buildDefaultLogger("discover"),
		metrics:     defaultMetricsTracker,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics.Add(discoverRunMetricName, "Time taken to run a whole granule discovery")
	return d, nil
}

// Discovery composes query normalization, the search client, the record mapper and
// the duplicate filter into one bounded output stream of granules.
type Discovery struct {
	cfg         DiscoveryConfig
	client      *Client
	collections CollectionSource
	registry    Registry
	logger      *zap.Logger
	metrics     MetricsTracker
}

// DiscoverResult is the discovery output handed to the downstream consumer. The
// granule order is the discovery order.
type DiscoverResult struct {
	Granules []*Granule `json:"granules"`
}

// Discover runs the discovery to completion and collects the surviving granules.
func (d *Discovery) Discover(ctx context.Context) (*DiscoverResult, error) {
	granules := make([]*Granule, 0)
	out, errCh := d.Stream(ctx)
	for granule := range out {
		granules = append(granules, granule)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return &DiscoverResult{Granules: granules}, nil
}

// Stream starts the discovery and returns its bounded output stream together with an
// error channel. The granule channel is closed once the discovery is done; the error
// channel then yields the run error, if any. A consumer that stops early must cancel
// the passed context, which closes the underlying search and releases its scroll
// session.
func (d *Discovery) Stream(ctx context.Context) (<-chan *Granule, <-chan error) {
	out := make(chan *Granule, d.cfg.ReadAhead)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(out)
		if err := d.run(ctx, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// run performs one discovery: it resolves the full collection record, streams the
// search pages, maps and filters each record and forwards the survivors downstream.
func (d *Discovery) run(ctx context.Context, out chan<- *Granule) error {
	start := time.Now()
	d.logger.Info("discovery is running",
		zap.String("collection", d.cfg.Collection.ShortName),
		zap.String("version", d.cfg.Collection.Version),
	)
	collection, err := d.collections.Collection(ctx, d.cfg.Collection.ShortName, d.cfg.Collection.Version)
	if err != nil {
		return fmt.Errorf("failed to resolve the full collection record: %v", err)
	}
	discoveryPolicy := ResolveDuplicatePolicy(d.cfg.DuplicateHandling, collection.DuplicateHandling)
	ingestPolicy := d.cfg.IngestDuplicateHandling
	if ingestPolicy == "" {
		ingestPolicy = discoveryPolicy
	}
	search, err := NewSearch(SearchConfig{
		Host:     d.cfg.Host,
		Type:     SearchTypeGranules,
		Format:   FormatUMMJSON,
		Headers:  d.cfg.SearchHeaders,
		Params:   d.buildQuery(collection),
		PageSize: d.cfg.PageSize,
	}, d.client, SearchWithLogger(d.logger), SearchWithMetricsTracker(d.metrics))
	if err != nil {
		return err
	}
	defer search.Close()
	filter := newDuplicateFilter(discoveryPolicy, d.registry, d.logger)
	memo := newCollectionMemo(d.collections)
	rates := newDiscoveryRates()
	var discovered int
	for {
		record, ok, err := search.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		granule, err := d.mapRecord(ctx, record, memo, collection, ingestPolicy)
		if err != nil {
			return err
		}
		if granule == nil {
			rates.Skipped()
			continue
		}
		keep, err := filter.Keep(ctx, granule)
		if err != nil {
			return err
		}
		if !keep {
			rates.Skipped()
			continue
		}
		select {
		case out <- granule:
			discovered++
			rates.Discovered()
		case <-ctx.Done():
			d.logger.Info("discovery has been stopped by context")
			return ctx.Err()
		}
	}
	d.metrics.Set(discoverRunMetricName, fmt.Sprintf("%d", time.Since(start).Microseconds()))
	d.logger.Info("discovery has finished",
		zap.Int("discovered", discovered),
		zap.Int("total_hits", search.Hits()),
	)
	return nil
}

// buildQuery merges the default query derived from the resolved collection record
// with the caller-supplied search parameters, the caller entries winning on key
// conflicts.
func (d *Discovery) buildQuery(collection *Collection) map[string]interface{} {
	defaults := map[string]interface{}{
		"short_name": collection.ShortName,
		"version":    collection.Version,
	}
	if len(d.cfg.SearchParams) == 0 {
		return defaults
	}
	merged := merge.Merge(defaults, d.cfg.SearchParams)
	if query, ok := merged.(map[string]interface{}); ok {
		return query
	}
	return defaults
}

// mapRecord converts one raw record into a granule. The parent collection is taken
// from the record's explicit short name/version reference when present; a record
// carrying only an entry title is resolved by an additional lookup, memoized per
// unique title for the life of the discovery run. Records mapping to zero files
// yield nil and are dropped.
func (d *Discovery) mapRecord(
	ctx context.Context,
	record RawRecord,
	memo *collectionMemo,
	fallback *Collection,
	ingestPolicy DuplicatePolicy,
) (*Granule, error) {
	shortName, version, entryTitle := recordCollectionRef(record)
	collection := fallback
	switch {
	case shortName != "" && version != "":
		collection = &Collection{ShortName: shortName, Version: version}
	case entryTitle != "":
		resolved, err := memo.ByTitle(ctx, entryTitle)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve the parent collection by title %q: %v", entryTitle, err)
		}
		collection = resolved
	}
	granule := mapGranule(record, collection)
	if granule == nil {
		return nil, nil
	}
	granule.Meta = d.granuleMeta(ingestPolicy)
	return granule, nil
}

// granuleMeta builds the per-granule meta handed to the downstream ingest.
func (d *Discovery) granuleMeta(ingestPolicy DuplicatePolicy) map[string]interface{} {
	meta := map[string]interface{}{
		"duplicate_handling": ingestPolicy.String(),
	}
	if d.cfg.Stack != "" {
		meta["stack"] = d.cfg.Stack
	}
	if d.cfg.IngestProviderID != "" {
		meta["ingest_provider_id"] = d.cfg.IngestProviderID
	}
	if d.cfg.IngestCollection != "" {
		meta["ingest_collection"] = d.cfg.IngestCollection
	}
	return meta
}
