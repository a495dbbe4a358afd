// Package gormstore implements devicecore's repository.ConfigStore over
// gorm, grounded on the teacher's postgres repository implementations
// (internal/infrastructure/persistence/postgres), trimmed from a
// multi-table device repository down to the single key/value table the
// core's settings and blacklist blobs need.
package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// configEntry is the single table gormstore owns. Key is the primary key;
// Value holds the caller's opaque blob.
type configEntry struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (configEntry) TableName() string { return "devicecore_config" }

// Store is a gorm-backed ConfigStore, usable with any gorm dialect the
// caller wires (postgres, sqlite, ...).
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// New wraps an already-opened *gorm.DB and ensures the backing table
// exists via AutoMigrate.
func New(db *gorm.DB, log logger.Logger) (*Store, error) {
	if err := db.AutoMigrate(&configEntry{}); err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "migrating config table")
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var entry configEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "loading config entry")
	}
	return entry.Value, nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte, done repository.DoneFunc) {
	entry := configEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		s.log.Error("gorm save failed", err, logger.String("key", key))
	}
	if done != nil {
		done(err)
	}
}
