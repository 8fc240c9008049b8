package articles

import (
	"context"
	"errors"
	"testing"
)

func TestGrantCollaboratorUpdatesTierInPlace(t *testing.T) {
	service, db := newTestService(t, []string{"article-1", "grant-1", "grant-2"})

	article := mustCreateArticle(t, service, "Shared", "user-1")

	inviter := "user-1"
	first, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:   article.ID,
		UserID:      "user-2",
		Permission:  PermissionView,
		InvitedByID: &inviter,
	})
	if err != nil {
		t.Fatalf("unexpected grant error: %v", err)
	}

	second, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:  article.ID,
		UserID:     "user-2",
		Permission: PermissionAdmin,
	})
	if err != nil {
		t.Fatalf("unexpected regrant error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same grant row, got %s and %s", first.ID, second.ID)
	}
	if second.Permission != PermissionAdmin {
		t.Fatalf("expected admin tier, got %s", second.Permission)
	}

	var grants int64
	if err := db.Model(&ArticleCollaborator{}).Count(&grants).Error; err != nil {
		t.Fatalf("failed to count grants: %v", err)
	}
	if grants != 1 {
		t.Fatalf("expected one grant row, got %d", grants)
	}
}

func TestGrantCollaboratorRejectsUnknownPermission(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1"})

	article := mustCreateArticle(t, service, "Shared", "user-1")

	_, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:  article.ID,
		UserID:     "user-2",
		Permission: "owner",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCollaboratorPermissionAnswersAuthorizationQueries(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "grant-1"})

	article := mustCreateArticle(t, service, "Gated", "user-1")
	if _, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:  article.ID,
		UserID:     "user-2",
		Permission: PermissionEdit,
	}); err != nil {
		t.Fatalf("unexpected grant error: %v", err)
	}

	permission, err := service.CollaboratorPermission(context.Background(), article.ID, "user-2")
	if err != nil {
		t.Fatalf("unexpected permission error: %v", err)
	}
	if !permission.AtLeast(PermissionView) || !permission.AtLeast(PermissionEdit) {
		t.Fatalf("expected edit to satisfy view and edit")
	}
	if permission.AtLeast(PermissionAdmin) {
		t.Fatalf("expected edit to not satisfy admin")
	}

	if _, err := service.CollaboratorPermission(context.Background(), article.ID, "user-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing grant, got %v", err)
	}
}

func TestRevokeCollaborator(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "grant-1"})

	article := mustCreateArticle(t, service, "Revoked", "user-1")
	if _, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
		ArticleID:  article.ID,
		UserID:     "user-2",
		Permission: PermissionView,
	}); err != nil {
		t.Fatalf("unexpected grant error: %v", err)
	}

	if err := service.RevokeCollaborator(context.Background(), article.ID, "user-2"); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if err := service.RevokeCollaborator(context.Background(), article.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
}

func TestListCollaboratorsReturnsGrantsInInsertionOrder(t *testing.T) {
	service, _ := newTestService(t, []string{"article-1", "grant-1", "grant-2"})

	article := mustCreateArticle(t, service, "Team", "user-1")
	for _, userID := range []string{"user-2", "user-3"} {
		if _, err := service.GrantCollaborator(context.Background(), GrantCollaboratorInput{
			ArticleID:  article.ID,
			UserID:     userID,
			Permission: PermissionView,
		}); err != nil {
			t.Fatalf("unexpected grant error: %v", err)
		}
	}

	grants, err := service.ListCollaborators(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected two grants, got %d", len(grants))
	}
}

func TestPermissionRanking(t *testing.T) {
	if !PermissionAdmin.AtLeast(PermissionView) {
		t.Fatalf("expected admin to satisfy view")
	}
	if PermissionView.AtLeast(PermissionEdit) {
		t.Fatalf("expected view to not satisfy edit")
	}
	if Permission("owner").AtLeast(PermissionView) {
		t.Fatalf("expected unknown tier to satisfy nothing")
	}
	if PermissionView.AtLeast(Permission("owner")) {
		t.Fatalf("expected unknown requirement to never be satisfied")
	}
}
