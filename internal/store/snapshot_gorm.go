package store

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SnapshotModel is the single-row table backing GormSnapshotter.
type SnapshotModel struct {
	Key       string `gorm:"primaryKey"`
	Version   int    `gorm:"not null"`
	Data      datatypes.JSON
	UpdatedAt time.Time
}

// GormSnapshotter keeps the snapshot in Postgres, keyed by the fixed
// storage key, for deployments where Redis is not available.
type GormSnapshotter struct {
	db  *gorm.DB
	key string
}

// NewGormSnapshotter opens the DB and runs auto-migration.
func NewGormSnapshotter(dsn, key string) (*GormSnapshotter, error) {
	if key == "" {
		key = DefaultSnapshotKey
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&SnapshotModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormSnapshotter{db: db, key: key}, nil
}

// Load fetches and decodes the snapshot row.
func (s *GormSnapshotter) Load() (Snapshot, bool, error) {
	var model SnapshotModel
	if err := s.db.First(&model, "key = ?", s.key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	snap, err := DecodeSnapshot(model.Data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save upserts the snapshot row.
func (s *GormSnapshotter) Save(snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	model := SnapshotModel{
		Key:       s.key,
		Version:   SnapshotVersion,
		Data:      datatypes.JSON(data),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "data", "updated_at"}),
	}).Create(&model).Error
}
