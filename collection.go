package godiscover

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Collection is a named, versioned grouping of granules sharing a processing lineage.
type Collection struct {
	ShortName  string `json:"shortName"`
	Version    string `json:"version"`
	EntryTitle string `json:"entryTitle,omitempty"`
	// DuplicateHandling is the collection default duplicate handling policy, applied
	// when a discovery does not override it.
	DuplicateHandling DuplicatePolicy        `json:"duplicateHandling,omitempty"`
	Meta              map[string]interface{} `json:"meta,omitempty"`
}

// CollectionSource resolves full collection records. The discovery pipeline consumes
// it as a black-box lookup.
type CollectionSource interface {
	// Collection resolves the full collection record by its short name and version.
	Collection(ctx context.Context, shortName, version string) (*Collection, error)
	// CollectionByTitle resolves the full collection record by its entry title. It is
	// used for records that reference their parent collection by title only.
	CollectionByTitle(ctx context.Context, title string) (*Collection, error)
}

// newCollectionMemo wraps the passed source with a per-title memo for the life of one
// discovery run. The memo is append-only and keyed by value; concurrent lookups for
// the same title coalesce into one outstanding request.
func newCollectionMemo(source CollectionSource) *collectionMemo {
	return &collectionMemo{
		source:  source,
		lookups: make(map[string]*collectionLookup),
	}
}

// collectionMemo memoizes by-title collection lookups.
type collectionMemo struct {
	source  CollectionSource
	mu      sync.Mutex
	lookups map[string]*collectionLookup
}

// collectionLookup holds the result of one by-title lookup. The done channel is closed
// once the result fields are populated.
type collectionLookup struct {
	done       chan struct{}
	collection *Collection
	err        error
}

// ByTitle returns the collection resolved for the passed title, performing the source
// lookup at most once per unique title. Callers arriving while the lookup is in flight
// wait for its result instead of issuing their own request.
func (m *collectionMemo) ByTitle(ctx context.Context, title string) (*Collection, error) {
	m.mu.Lock()
	lookup, ok := m.lookups[title]
	if !ok {
		lookup = &collectionLookup{done: make(chan struct{})}
		m.lookups[title] = lookup
		m.mu.Unlock()
		lookup.collection, lookup.err = m.source.CollectionByTitle(ctx, title)
		close(lookup.done)
		return lookup.collection, lookup.err
	}
	m.mu.Unlock()
	select {
	case <-lookup.done:
		return lookup.collection, lookup.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewSearchCollectionSource returns a CollectionSource backed by the remote catalog's
// own collection search endpoint.
func NewSearchCollectionSource(host string, client *Client, logger *zap.Logger) *SearchCollectionSource {
	return &SearchCollectionSource{
		host:   host,
		client: client,
		logger: logger,
	}
}

// SearchCollectionSource resolves collection records by querying the catalog collection
// search with a one-page search per lookup.
type SearchCollectionSource struct {
	host   string
	client *Client
	logger *zap.Logger
}

// Collection resolves the full collection record by its short name and version.
func (s *SearchCollectionSource) Collection(ctx context.Context, shortName, version string) (*Collection, error) {
	return s.lookup(ctx, map[string]interface{}{
		"short_name": shortName,
		"version":    version,
	})
}

// CollectionByTitle resolves the full collection record by its entry title.
func (s *SearchCollectionSource) CollectionByTitle(ctx context.Context, title string) (*Collection, error) {
	return s.lookup(ctx, map[string]interface{}{
		"entry_title": title,
	})
}

// lookup runs a single-page collection search with the passed filter and maps the
// first returned record.
func (s *SearchCollectionSource) lookup(ctx context.Context, params map[string]interface{}) (*Collection, error) {
	params["page_size"] = "1"
	search, err := NewSearch(SearchConfig{
		Host:          s.host,
		Type:          SearchTypeCollections,
		Format:        FormatUMMJSON,
		Params:        params,
		DisableScroll: true,
	}, s.client, SearchWithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	defer search.Close()
	record, ok, err := search.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no collection has been found for %v", params)
	}
	return &Collection{
		ShortName:  stringField(record, "ShortName"),
		Version:    stringField(record, "Version"),
		EntryTitle: stringField(record, "EntryTitle"),
	}, nil
}
