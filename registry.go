package godiscover

import (
	"context"
	"fmt"

	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

// InitRegistry sets the registry base properties, validates it and sets it up.
func InitRegistry(registry Registry, ctx context.Context, logger *zap.Logger) error {
	if err := registry.Prepare(ctx, logger); err != nil {
		return err
	}
	if err := validator.New().Struct(registry); err != nil {
		return fmt.Errorf("registry validation error: %v", err)
	}
	if err := registry.Setup(); err != nil {
		return fmt.Errorf("registry setup error: %v", err)
	}
	return nil
}

// Registry answers whether a granule is already recorded in the target catalog. The
// discovery pipeline consults it as a black-box predicate under the skip and error
// duplicate handling policies.
type Registry interface {
	// Prepare validates the config and sets the base properties.
	Prepare(ctx context.Context, logger *zap.Logger) error
	// Setup contains the registry preparations like connection etc. Is called only once
	// at the very beginning of the work with the registry.
	Setup() error
	// Shutdown is called only once at the very end of the work with the registry. It is
	// meant to perform cleanups, close connections and so on.
	Shutdown()
	// IsRecorded reports whether a granule with the passed id is already known to the
	// target catalog.
	IsRecorded(ctx context.Context, granuleID string) (bool, error)
}

// BaseRegistry contains base fields and methods for all registries. It is a base for
// them and it must be embedded into them.
type BaseRegistry struct {
	Context context.Context
	Logger  *zap.Logger `validate:"required"`
}

// Prepare sets the registry base properties.
func (b *BaseRegistry) Prepare(ctx context.Context, logger *zap.Logger) error {
	b.Context = ctx
	b.Logger = logger
	return nil
}

// Shutdown is called only once at the very end of the work with the registry. As for
// the BaseRegistry, the method does nothing. It can be redefined in the concrete
// registry to set the behaviour.
func (b *BaseRegistry) Shutdown() {}
