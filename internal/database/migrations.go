package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDensifySiblingOrder     = "2024-06-01_densify_sibling_order"
	migrationBackfillAuthoringStatus = "2024-06-15_backfill_authoring_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDensifySiblingOrder, apply: densifySiblingOrder},
		{name: migrationBackfillAuthoringStatus, apply: backfillAuthoringStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func densifySiblingOrder(db *gorm.DB) error {
	return curriculum.RepairSiblingOrder(db, time.Now().UTC().Unix())
}

func backfillAuthoringStatus(db *gorm.DB) error {
	return db.Model(&curriculum.Lesson{}).
		Where("authoring_status IS NULL").
		Update("authoring_status", curriculum.AuthoringNotStarted).Error
}
