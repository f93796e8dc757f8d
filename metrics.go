package godiscover

import (
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsTracker registers and measures pipeline steps duration and instant metrics.
type MetricsTracker interface {
	// Add registers the measurement in the metrics tracker with the following description.
	Add(measurement, description string)
	// Start launches the measurement duration timer.
	Start(measurement string)
	// Stop stops the measurement timer and registers the time diff in the metrics tracker.
	Stop(measurement string)
	// Set registers the measurement value in the metrics tracker. Should be used to register
	// instant metrics.
	Set(measurement, value string)
}

// defaultMetricsTracker is used when no metrics tracker is configured.
var defaultMetricsTracker MetricsTracker = emptyMetricsTracker{}

// emptyMetricsTracker is used when no metrics tracker is needed. It just does nothing on every call.
type emptyMetricsTracker struct{}

func (emptyMetricsTracker) Add(measurement, description string) {}
func (emptyMetricsTracker) Start(measurement string)            {}
func (emptyMetricsTracker) Stop(measurement string)             {}
func (emptyMetricsTracker) Set(measurement, value string)       {}

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "godiscover_search_pages_fetched_total",
		Help: "The total number of search result pages fetched from the remote catalog",
	})
	requestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "godiscover_request_retries_total",
		Help: "The total number of catalog request retries performed after transient failures",
	})
	granulesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "godiscover_granules_discovered_total",
		Help: "The total number of granules that passed mapping and duplicate filtering",
	})
	granulesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "godiscover_granules_skipped_total",
		Help: "The total number of granules dropped as incomplete or already recorded",
	})
	discoveryRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "godiscover_discovery_rate_per_minute",
		Help: "The per-minute rate of granules leaving the discovery pipeline",
	})
)

// newDiscoveryRates returns a fresh discoveryRates instance.
func newDiscoveryRates() *discoveryRates {
	return &discoveryRates{
		records: ratecounter.NewRateCounter(time.Minute),
	}
}

// discoveryRates tracks the per-minute throughput of the discovery pipeline and
// mirrors it into the prometheus gauge.
type discoveryRates struct {
	records *ratecounter.RateCounter
}

// Discovered registers one granule leaving the pipeline.
func (r *discoveryRates) Discovered() {
	r.records.Incr(1)
	granulesDiscovered.Inc()
	discoveryRate.Set(float64(r.records.Rate()))
}

// Skipped registers one granule dropped by mapping or filtering.
func (r *discoveryRates) Skipped() {
	granulesSkipped.Inc()
}
