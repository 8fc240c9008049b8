package database

import (
	"errors"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/praxislabs/knowledgehub/internal/articles"
)

const migrationBackfillArticleSlugs = "2026-08-12_backfill_article_slugs"

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
		{name: migrationBackfillArticleSlugs, apply: backfillArticleSlugs},
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

// backfillArticleSlugs derives a slug from the title for articles imported
// before slugs became mandatory.
func backfillArticleSlugs(db *gorm.DB) error {
	var missing []articles.Article
	if err := db.Where("slug = ''").Find(&missing).Error; err != nil {
		return err
	}
	for _, article := range missing {
		if err := db.Model(&articles.Article{}).
			Where("id = ?", article.ID).
			Update("slug", slug.Make(article.Title)).Error; err != nil {
			return err
		}
	}
	return nil
}
