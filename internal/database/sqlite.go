package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/praxislabs/knowledgehub/internal/articles"
	"github.com/praxislabs/knowledgehub/internal/comments"
	"github.com/praxislabs/knowledgehub/internal/taxonomy"
	"github.com/praxislabs/knowledgehub/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&taxonomy.Category{},
		&articles.Article{},
		&articles.Revision{},
		&articles.Section{},
		&articles.ArticleCollaborator{},
		&articles.ArticleView{},
		&comments.Comment{},
		&comments.CommentVote{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
