// Package indexstore maintains an optional queryable index of benchmark
// records in sqlite or postgres, fed alongside the authoritative JSON store.
package indexstore

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/siliconmark/vastmark/pkg/result"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for the indexed benchmark records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	InsertRecord(ctx context.Context, rec *result.BenchmarkRecord) error
	ListRecords(ctx context.Context) ([]Record, error)
	ListRecordsByMachine(ctx context.Context, machineID int) ([]Record, error)
	LatestRecordByMachine(ctx context.Context, machineID int) (*Record, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.IndexConfig
	db  *gorm.DB
}

// NewStore creates an index Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.IndexConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported index driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// InsertRecord appends a flattened benchmark record to the index.
func (s *store) InsertRecord(ctx context.Context, rec *result.BenchmarkRecord) error {
	row := recordFromBenchmark(rec)

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	return nil
}

// ListRecords returns all indexed records, newest first.
func (s *store) ListRecords(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Order("indexed_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	return records, nil
}

// ListRecordsByMachine returns all indexed records for a machine, newest
// first.
func (s *store) ListRecordsByMachine(ctx context.Context, machineID int) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("indexed_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing records for machine %d: %w", machineID, err)
	}

	return records, nil
}

// LatestRecordByMachine returns the most recent indexed record for a
// machine, or nil when the machine has never been benchmarked.
func (s *store) LatestRecordByMachine(ctx context.Context, machineID int) (*Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("indexed_at DESC").
		Limit(1).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting latest record for machine %d: %w", machineID, err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	return &records[0], nil
}
