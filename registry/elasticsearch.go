package registry

import (
	"context"
	"fmt"

	"github.com/dataplume/godiscover"

	"github.com/olivere/elastic/v7"
)

// ElasticsearchRegistryConfig represents the ElasticsearchRegistry configurable fields model.
type ElasticsearchRegistryConfig struct {
	// ServerURL is the ES server URL with protocol and port. E.g. https://my.es.instance:9200.
	ServerURL string `validate:"required,url"`
	// Index is the index holding the recorded granule documents, one document per
	// granule with the granule id as the document id.
	Index string `validate:"required"`
}

// NewElasticsearchRegistry returns a new instance of the ElasticsearchRegistry.
func NewElasticsearchRegistry(cfg ElasticsearchRegistryConfig) *ElasticsearchRegistry {
	return &ElasticsearchRegistry{
		Cfg: cfg,
	}
}

// ElasticsearchRegistry answers the already-recorded predicate against the granule
// documents of an Elasticsearch index.
type ElasticsearchRegistry struct {
	godiscover.BaseRegistry
	Cfg    ElasticsearchRegistryConfig
	client *elastic.Client
}

// Setup contains the registry preparations like connection etc. Is called only once at
// the very beginning of the work with the registry. As for the ElasticsearchRegistry,
// it setups and pings the internal client.
func (r *ElasticsearchRegistry) Setup() error {
	client, err := elastic.NewClient(elastic.SetURL(r.Cfg.ServerURL), elastic.SetSniff(false))
	if err != nil {
		return err
	}
	_, _, err = client.Ping(r.Cfg.ServerURL).Do(r.Context)
	if err != nil {
		return err
	}
	r.client = client
	return nil
}

// IsRecorded reports whether a granule document with the passed id exists in the
// configured index.
func (r *ElasticsearchRegistry) IsRecorded(ctx context.Context, granuleID string) (bool, error) {
	exists, err := r.client.Exists().Index(r.Cfg.Index).Id(granuleID).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to look the granule %s up: %v", granuleID, err)
	}
	return exists, nil
}

// Record stores the passed granule as a recorded granule document. It is meant to be
// called by the downstream ingest once a granule has been processed.
func (r *ElasticsearchRegistry) Record(ctx context.Context, granule *godiscover.Granule) error {
	_, err := r.client.Index().
		Index(r.Cfg.Index).
		Id(granule.GranuleID).
		BodyJson(granule).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to record the granule %s: %v", granule.GranuleID, err)
	}
	return nil
}
