package articles

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:knowledgehub_articles_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Article{}, &Revision{}, &Section{}, &ArticleCollaborator{}, &ArticleView{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	generator := &staticIDGenerator{ids: ids}

	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: generator,
	})
	if err != nil {
		t.Fatalf("failed to construct articles service: %v", err)
	}

	return service, db
}

func mustCreateArticle(t *testing.T, service *Service, title, author string) *Article {
	t.Helper()
	article, err := service.CreateArticle(context.Background(), CreateArticleInput{
		Title:    title,
		AuthorID: author,
	})
	if err != nil {
		t.Fatalf("unexpected create article error: %v", err)
	}
	return article
}

func mustCreateRevision(t *testing.T, service *Service, input CreateRevisionInput) *Revision {
	t.Helper()
	revision, err := service.CreateRevision(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected create revision error: %v", err)
	}
	return revision
}

func mustCreateSection(t *testing.T, service *Service, input CreateSectionInput) *Section {
	t.Helper()
	section, err := service.CreateSection(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected create section error: %v", err)
	}
	return section
}
