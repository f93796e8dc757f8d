package godiscover

import (
	"context"

	"go.uber.org/zap"
)

// DuplicatePolicy defines how granules already recorded in the target catalog are
// treated during discovery.
type DuplicatePolicy string

const (
	// DuplicateSkip silently drops already recorded granules.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateError aborts the whole discovery on the first already recorded granule.
	DuplicateError DuplicatePolicy = "error"
	// DuplicateReplace accepts all granules unfiltered, the downstream ingest replaces
	// the recorded ones.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateVersion accepts all granules unfiltered, the downstream ingest keeps the
	// recorded ones as versions.
	DuplicateVersion DuplicatePolicy = "version"
)

// String converts a policy to string.
func (p DuplicatePolicy) String() string {
	return string(p)
}

// Valid reports whether the policy is one of the known duplicate handling policies.
func (p DuplicatePolicy) Valid() bool {
	switch p {
	case DuplicateSkip, DuplicateError, DuplicateReplace, DuplicateVersion:
		return true
	default:
		return false
	}
}

// ResolveDuplicatePolicy picks the effective duplicate handling policy out of the
// explicit override, the collection default and the global default, in that order.
func ResolveDuplicatePolicy(override, collectionDefault DuplicatePolicy) DuplicatePolicy {
	if override != "" {
		return override
	}
	if collectionDefault != "" {
		return collectionDefault
	}
	return DuplicateSkip
}

// newDuplicateFilter returns a duplicate filter applying the passed policy with the
// passed registry as the already-recorded predicate.
func newDuplicateFilter(policy DuplicatePolicy, registry Registry, logger *zap.Logger) *duplicateFilter {
	return &duplicateFilter{
		policy:   policy,
		registry: registry,
		logger:   logger,
	}
}

// duplicateFilter decides per granule whether it should be kept, dropped or whether
// the whole discovery has to be aborted.
type duplicateFilter struct {
	policy   DuplicatePolicy
	registry Registry
	logger   *zap.Logger
}

// Keep reports whether the passed granule survives the filter. Under the replace and
// version policies every granule is kept without consulting the registry. Under skip
// a recorded granule is dropped, under error it aborts the discovery.
func (f *duplicateFilter) Keep(ctx context.Context, granule *Granule) (bool, error) {
	switch f.policy {
	case DuplicateReplace, DuplicateVersion:
		return true, nil
	}
	recorded, err := f.registry.IsRecorded(ctx, granule.GranuleID)
	if err != nil {
		return false, err
	}
	if !recorded {
		return true, nil
	}
	if f.policy == DuplicateError {
		return false, &DuplicateGranuleError{GranuleID: granule.GranuleID}
	}
	f.logger.Info("skipping an already recorded granule", zap.String("granule_id", granule.GranuleID))
	return false, nil
}
