package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationIndexQuizDigestProps = "2026-03-01_index_quiz_digest_props"
	quizDigestIndexName           = "idx_quiz_props_digest"
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
		{name: migrationIndexQuizDigestProps, apply: indexQuizDigestProps},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// indexQuizDigestProps adds a partial index over digest props so quiz reuse lookups do not scan
// every stored prop value.
func indexQuizDigestProps(db *gorm.DB) error {
	statement := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (value) WHERE name = '%s'",
		quizDigestIndexName,
		courses.QuizProp{}.TableName(),
		courses.QuizDigestProp,
	)
	return db.Exec(statement).Error
}
