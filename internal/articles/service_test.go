package articles

import (
	"context"
	"errors"
	"testing"
)

func TestCreateArticleDerivesSlugAndDefaultsToDraft(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1"})

	article, err := service.CreateArticle(context.Background(), CreateArticleInput{
		Title:    "Why Raft Elections Stall",
		AuthorID: "user-1",
		Tags:     []string{"consensus", "raft"},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if article.Slug != "why-raft-elections-stall" {
		t.Fatalf("unexpected slug: %q", article.Slug)
	}
	if article.Status != StatusDraft {
		t.Fatalf("expected draft status, got %s", article.Status)
	}
	if article.IsPublished() {
		t.Fatalf("expected draft to not be published")
	}
	tags := article.Tags()
	if len(tags) != 2 || tags[0] != "consensus" || tags[1] != "raft" {
		t.Fatalf("unexpected tags: %#v", tags)
	}
	if article.CurrentRevisionID != nil {
		t.Fatalf("expected no current revision on a fresh article")
	}
}

func TestCreateArticleRejectsDuplicateSlug(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "article-2"})

	mustCreateArticle(t, service, "Same Title", "user-1")

	_, err := service.CreateArticle(context.Background(), CreateArticleInput{
		Title:    "Same Title",
		AuthorID: "user-2",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRevisionAssignsSequentialVersions(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "revision-1", "revision-2"})

	article := mustCreateArticle(t, service, "Versioned", "user-1")

	first := mustCreateRevision(t, service, CreateRevisionInput{
		ArticleID: article.ID,
		EditorID:  "user-1",
		Title:     "Versioned",
		Content:   "first draft",
	})
	if first.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", first.VersionNumber)
	}

	second := mustCreateRevision(t, service, CreateRevisionInput{
		ArticleID: article.ID,
		EditorID:  "user-2",
		Title:     "Versioned",
		Content:   "second draft",
	})
	if second.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %d", second.VersionNumber)
	}

	count, err := service.RevisionCount(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two revisions, got %d", count)
	}
}

func TestCreateRevisionPromotesContentOntoArticle(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "revision-1"})

	article := mustCreateArticle(t, service, "Old Title", "user-1")

	revision := mustCreateRevision(t, service, CreateRevisionInput{
		ArticleID:     article.ID,
		EditorID:      "user-2",
		Title:         "New Title",
		Content:       "rewritten",
		Summary:       "a rewrite",
		ChangeMessage: "rewrote everything",
		Tags:          []string{"rewrite"},
	})

	reloaded, err := service.GetArticle(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.Title != "New Title" {
		t.Fatalf("expected promoted title, got %q", reloaded.Title)
	}
	if reloaded.CurrentContent != "rewritten" {
		t.Fatalf("expected promoted content, got %q", reloaded.CurrentContent)
	}
	if reloaded.CurrentSummary != "a rewrite" {
		t.Fatalf("expected promoted summary, got %q", reloaded.CurrentSummary)
	}
	if reloaded.LastEditorID == nil || *reloaded.LastEditorID != "user-2" {
		t.Fatalf("expected last editor promoted, got %v", reloaded.LastEditorID)
	}
	if reloaded.CurrentRevisionID == nil || *reloaded.CurrentRevisionID != revision.ID {
		t.Fatalf("expected current revision pointer, got %v", reloaded.CurrentRevisionID)
	}
	tags := reloaded.Tags()
	if len(tags) != 1 || tags[0] != "rewrite" {
		t.Fatalf("expected promoted tags, got %#v", tags)
	}

	current, err := service.IsCurrent(context.Background(), revision)
	if err != nil {
		t.Fatalf("unexpected is current error: %v", err)
	}
	if !current {
		t.Fatalf("expected revision to be current")
	}
}

func TestCreateRevisionRejectsExplicitDuplicateVersion(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "revision-1", "revision-2"})

	article := mustCreateArticle(t, service, "Contested", "user-1")

	mustCreateRevision(t, service, CreateRevisionInput{
		ArticleID:     article.ID,
		EditorID:      "user-1",
		Title:         "Contested",
		Content:       "one",
		VersionNumber: 1,
	})

	_, err := service.CreateRevision(context.Background(), CreateRevisionInput{
		ArticleID:     article.ID,
		EditorID:      "user-2",
		Title:         "Contested",
		Content:       "also one",
		VersionNumber: 1,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateRevisionRejectsUnknownArticle(t *testing.T) {
	service, _ := newTestService(t, []string{"revision-1"})

	_, err := service.CreateRevision(context.Background(), CreateRevisionInput{
		ArticleID: "article-missing",
		EditorID:  "user-1",
		Title:     "Orphan",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListRevisionsReturnsNewestVersionFirst(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "revision-1", "revision-2", "revision-3"})

	article := mustCreateArticle(t, service, "History", "user-1")
	for i := 0; i < 3; i++ {
		mustCreateRevision(t, service, CreateRevisionInput{
			ArticleID: article.ID,
			EditorID:  "user-1",
			Title:     "History",
			Content:   "draft",
		})
	}

	revisions, err := service.ListRevisions(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("expected three revisions, got %d", len(revisions))
	}
	if revisions[0].VersionNumber != 3 || revisions[2].VersionNumber != 1 {
		t.Fatalf("unexpected order: %d, %d, %d",
			revisions[0].VersionNumber, revisions[1].VersionNumber, revisions[2].VersionNumber)
	}
}

func TestSetStatusTransitionsLifecycle(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1"})

	article := mustCreateArticle(t, service, "Lifecycle", "user-1")

	if err := service.SetStatus(context.Background(), article.ID, StatusPublished); err != nil {
		t.Fatalf("unexpected set status error: %v", err)
	}
	reloaded, err := service.GetArticle(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !reloaded.IsPublished() {
		t.Fatalf("expected published article")
	}

	if err := service.SetStatus(context.Background(), article.ID, "retracted"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := service.SetStatus(context.Background(), "article-missing", StatusArchived); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIncrementViewCountAccumulates(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1"})

	article := mustCreateArticle(t, service, "Popular", "user-1")

	for i := 0; i < 3; i++ {
		if err := service.IncrementViewCount(context.Background(), article.ID); err != nil {
			t.Fatalf("unexpected increment error: %v", err)
		}
	}

	reloaded, err := service.GetArticle(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.ViewCount != 3 {
		t.Fatalf("expected view count 3, got %d", reloaded.ViewCount)
	}

	if err := service.IncrementViewCount(context.Background(), "article-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordViewWritesEventAndBumpsCounter(t *testing.T) {
	service, db := newTestService(t, []string{"article-1", "view-1"})

	article := mustCreateArticle(t, service, "Tracked", "user-1")

	viewer := "user-2"
	err := service.RecordView(context.Background(), ViewEvent{
		ArticleID:  article.ID,
		UserID:     &viewer,
		IPAddress:  "192.0.2.10",
		UserAgent:  "test-agent",
		SessionKey: "session-1",
	})
	if err != nil {
		t.Fatalf("unexpected record view error: %v", err)
	}

	reloaded, err := service.GetArticle(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.ViewCount != 1 {
		t.Fatalf("expected view count 1, got %d", reloaded.ViewCount)
	}

	var events []ArticleView
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("failed to list view events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one view event, got %d", len(events))
	}
	if events[0].UserID == nil || *events[0].UserID != viewer {
		t.Fatalf("unexpected event viewer: %v", events[0].UserID)
	}

	if err := service.RecordView(context.Background(), ViewEvent{ArticleID: "article-missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteArticleRemovesOwnedRecords(t *testing.T) {
	service, db := newTestService(t, []string{
		"article-1", "revision-1", "section-1", "grant-1", "view-1",
	})

	article := mustCreateArticle(t, service, "Doomed", "user-1")
	mustCreateRevision(t, service, CreateRevisionInput{
		ArticleID: article.ID,
		EditorID:  "user-1",
		Title:     "Doomed",
	})
	mustCreateSection(t, service, CreateSectionInput{
		ArticleID: article.ID,
		Title:     "Intro",
		Order:     1,
	})
	if _, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:  article.ID,
		UserID:     "user-2",
		Permission: PermissionEdit,
	}); err != nil {
		t.Fatalf("unexpected grant error: %v", err)
	}
	if err := service.RecordView(context.Background(), ViewEvent{ArticleID: article.ID}); err != nil {
		t.Fatalf("unexpected record view error: %v", err)
	}

	if err := service.DeleteArticle(context.Background(), article.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	if _, err := service.GetArticle(context.Background(), article.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected article deleted, got %v", err)
	}
	var revisions int64
	if err := db.Model(&Revision{}).Count(&revisions).Error; err != nil {
		t.Fatalf("failed to count revisions: %v", err)
	}
	if revisions != 0 {
		t.Fatalf("expected revisions removed, got %d", revisions)
	}
	var sections int64
	if err := db.Model(&Section{}).Count(&sections).Error; err != nil {
		t.Fatalf("failed to count sections: %v", err)
	}
	if sections != 0 {
		t.Fatalf("expected sections removed, got %d", sections)
	}
	var grants int64
	if err := db.Model(&ArticleCollaborator{}).Count(&grants).Error; err != nil {
		t.Fatalf("failed to count grants: %v", err)
	}
	if grants != 0 {
		t.Fatalf("expected grants removed, got %d", grants)
	}
	var views int64
	if err := db.Model(&ArticleView{}).Count(&views).Error; err != nil {
		t.Fatalf("failed to count views: %v", err)
	}
	if views != 0 {
		t.Fatalf("expected views removed, got %d", views)
	}
}

func TestGetArticleBySlug(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1"})

	created := mustCreateArticle(t, service, "Findable", "user-1")

	found, err := service.GetArticleBySlug(context.Background(), "findable")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("unexpected article: %s", found.ID)
	}

	if _, err := service.GetArticleBySlug(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
