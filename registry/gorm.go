package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/dataplume/godiscover"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// granulesTableName is the table holding the already recorded granules.
const granulesTableName = "granules"

// GORMRegistryConfig represents the GORMRegistry config structure.
type GORMRegistryConfig struct {
	Host     string `validate:"required"`
	Database string `validate:"required"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	Port     string `validate:"required"`
	// AutoMigrate makes the registry create the granules table on setup.
	AutoMigrate bool
}

// NewGORMRegistry returns a new instance of the GORMRegistry.
func NewGORMRegistry(cfg GORMRegistryConfig) *GORMRegistry {
	return &GORMRegistry{
		Cfg: cfg,
	}
}

// GORMRegistry answers the already-recorded predicate against the granule records of
// a database supported by gorm like MySQL, PostgresSQL and others.
type GORMRegistry struct {
	godiscover.BaseRegistry
	Cfg    GORMRegistryConfig
	client *gorm.DB
}

// granuleRecord is one recorded granule row.
type granuleRecord struct {
	GranuleID  string `gorm:"column:granule_id;primaryKey"`
	Collection string `gorm:"column:collection"`
	Recorded   time.Time
}

// TableName makes granuleRecord map onto the granules table.
func (granuleRecord) TableName() string {
	return granulesTableName
}

// Setup contains the registry preparations like connection etc. Is called only once at
// the very beginning of the work with the registry. As for the GORMRegistry, it opens
// the db connection and optionally migrates the granules table.
func (r *GORMRegistry) Setup() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
		r.Cfg.User, r.Cfg.Password, r.Cfg.Host, r.Cfg.Port, r.Cfg.Database, "parseTime=true")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return fmt.Errorf("failed to connect to the registry database: %v", err)
	}
	if r.Cfg.AutoMigrate {
		if err := db.AutoMigrate(&granuleRecord{}); err != nil {
			return fmt.Errorf("failed to migrate the granules table: %v", err)
		}
	}
	r.client = db
	return nil
}

// Shutdown is called only once at the very end of the work with the registry. As for
// the GORMRegistry, it closes the initially opened db connection.
func (r *GORMRegistry) Shutdown() {
	db, _ := r.client.DB()
	if db != nil {
		db.Close()
	}
}

// IsRecorded reports whether a granule with the passed id is present in the granules
// table.
func (r *GORMRegistry) IsRecorded(ctx context.Context, granuleID string) (bool, error) {
	var count int64
	err := r.client.WithContext(ctx).Model(&granuleRecord{}).
		Where("granule_id = ?", granuleID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look the granule %s up: %v", granuleID, err)
	}
	return count > 0, nil
}

// Record stores the passed granule as recorded. It is meant to be called by the
// downstream ingest once a granule has been processed.
func (r *GORMRegistry) Record(ctx context.Context, granule *godiscover.Granule) error {
	record := &granuleRecord{
		GranuleID:  granule.GranuleID,
		Collection: granule.DataType,
		Recorded:   time.Now(),
	}
	if err := r.client.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to record the granule %s: %v", granule.GranuleID, err)
	}
	return nil
}
