// +build integration

package registry

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/dataplume/godiscover"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testGranuleID = "MOD09GQ.A2017025.h21v00.006.2017034065104"

// buildGORMRegistry wires a registry against the database configured via the
// REGISTRY_DB_* environment variables.
func buildGORMRegistry() (*GORMRegistry, error) {
	registry := NewGORMRegistry(GORMRegistryConfig{
		Host:        os.Getenv("REGISTRY_DB_HOST"),
		Database:    os.Getenv("REGISTRY_DB_NAME"),
		User:        os.Getenv("REGISTRY_DB_USER"),
		Password:    os.Getenv("REGISTRY_DB_PASSWORD"),
		Port:        os.Getenv("REGISTRY_DB_PORT"),
		AutoMigrate: true,
	})
	if err := godiscover.InitRegistry(registry, context.Background(), zap.NewNop()); err != nil {
		return nil, err
	}
	return registry, nil
}

func TestGORMRegistry_IsRecorded(t *testing.T) {
	registry, err := buildGORMRegistry()
	if err != nil {
		t.Fatalf("registry build error: %v", err)
	}
	defer registry.Shutdown()
	defer cleanupGranule(registry, testGranuleID)

	t.Run("Unknown", func(t *testing.T) {
		recorded, err := registry.IsRecorded(context.Background(), testGranuleID)
		assert.Nilf(t, err, "lookup error")
		assert.Falsef(t, recorded, "an unknown granule expected not to be recorded")
	})
	if t.Failed() {
		return
	}
	t.Run("Recorded", func(t *testing.T) {
		granule := &godiscover.Granule{GranuleID: testGranuleID, DataType: "MOD09GQ"}
		assert.Nilf(t, registry.Record(context.Background(), granule), "record error")
		recorded, err := registry.IsRecorded(context.Background(), testGranuleID)
		assert.Nilf(t, err, "lookup error")
		assert.Truef(t, recorded, "a recorded granule expected to be reported")
	})
}

func TestGORMRegistry_RecordDuplicate(t *testing.T) {
	registry, err := buildGORMRegistry()
	if err != nil {
		t.Fatalf("registry build error: %v", err)
	}
	defer registry.Shutdown()
	defer cleanupGranule(registry, testGranuleID)

	granule := &godiscover.Granule{GranuleID: testGranuleID, DataType: "MOD09GQ"}
	assert.Nilf(t, registry.Record(context.Background(), granule), "record error")
	err = registry.Record(context.Background(), granule)
	assert.NotNilf(t, err, "recording the same granule twice expected to fail")
	assert.Containsf(t, err.Error(), fmt.Sprintf("failed to record the granule %s", testGranuleID), "error message mismatch")
}

// cleanupGranule removes the test granule row so that the runs stay independent.
func cleanupGranule(registry *GORMRegistry, granuleID string) {
	registry.client.Where("granule_id = ?", granuleID).Delete(&granuleRecord{})
}
