package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
)

const (
	migrationBackfillEventTypes   = "2026-09-14_backfill_event_types"
	migrationCanonicalizeLinkPair = "2026-09-21_canonicalize_link_pairs"
	migrationBackfillLabelKeys    = "2026-10-19_backfill_node_label_keys"
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

func registeredMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationBackfillEventTypes, apply: backfillEventTypes},
		{name: migrationCanonicalizeLinkPair, apply: canonicalizeLinkPairs},
		{name: migrationBackfillLabelKeys, apply: backfillLabelKeys},
	}
}

// applyMigrations runs each registered migration once, in order, recording it in db_migrations.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range registeredMigrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillEventTypes gives untyped events written before the column was required the note type.
func backfillEventTypes(db *gorm.DB) error {
	return db.Exec("UPDATE events SET type = ? WHERE type IS NULL OR type = ''", "note").Error
}

// canonicalizeLinkPairs enforces node_a_id < node_b_id on rows written by older clients.
// A reversed row whose canonical twin already exists is dropped along with its roles.
func canonicalizeLinkPairs(db *gorm.DB) error {
	duplicates := db.Table("links AS reversed").
		Select("reversed.id").
		Joins("JOIN links AS canonical ON canonical.node_a_id = reversed.node_b_id AND canonical.node_b_id = reversed.node_a_id").
		Where("reversed.node_a_id > reversed.node_b_id")

	var duplicateIDs []string
	if err := duplicates.Pluck("reversed.id", &duplicateIDs).Error; err != nil {
		return err
	}
	if len(duplicateIDs) > 0 {
		if err := db.Exec("DELETE FROM link_roles WHERE link_id IN ?", duplicateIDs).Error; err != nil {
			return err
		}
		if err := db.Exec("DELETE FROM links WHERE id IN ?", duplicateIDs).Error; err != nil {
			return err
		}
	}
	return db.Exec("UPDATE links SET node_a_id = node_b_id, node_b_id = node_a_id WHERE node_a_id > node_b_id").Error
}

type labelRow struct {
	ID    string
	Label string
}

// backfillLabelKeys folds labels of nodes created before label_key existed.
// Folding runs in Go because SQLite's LOWER leaves non-ASCII letters untouched.
func backfillLabelKeys(db *gorm.DB) error {
	var rows []labelRow
	if err := db.Table("nodes").Select("id, label").Where("label_key IS NULL OR label_key = ''").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if err := db.Exec("UPDATE nodes SET label_key = ? WHERE id = ?", graph.NormalizeLabel(row.Label), row.ID).Error; err != nil {
			return err
		}
	}
	return nil
}
