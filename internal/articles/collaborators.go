package articles

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGrantCollaborator  = "articles.grant_collaborator"
	opRevokeCollaborator = "articles.revoke_collaborator"
	opGetPermission      = "articles.collaborator_permission"
	opListCollaborators  = "articles.list_collaborators"
)

// GrantCollaboratorInput carries the field values for a collaborator grant.
type GrantCollaboratorInput struct {
	ArticleID   string
	UserID      string
	Permission  Permission
	InvitedByID *string
}

// GrantCollaborator records a permission grant. A user holds at most one
// grant per article: a repeated grant updates the tier in place instead of
// inserting a second row.
func (s *Service) GrantCollaborator(ctx context.Context, input GrantCollaboratorInput) (*ArticleCollaborator, error) {
	if !input.Permission.Valid() {
		return nil, newServiceError(opGrantCollaborator, "invalid_permission",
			fmt.Errorf("%w: unknown permission %q", ErrValidation, input.Permission))
	}
	if _, err := s.GetArticle(ctx, input.ArticleID); err != nil {
		return nil, err
	}

	var existing ArticleCollaborator
	err := s.db.WithContext(ctx).
		Where("article_id = ? AND user_id = ?", input.ArticleID, input.UserID).
		Take(&existing).Error
	if err == nil {
		existing.Permission = input.Permission
		if input.InvitedByID != nil {
			existing.InvitedByID = input.InvitedByID
		}
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			s.logError(opGrantCollaborator, "update_failed", err,
				zap.String("article_id", input.ArticleID), zap.String("user_id", input.UserID))
			return nil, newServiceError(opGrantCollaborator, "update_failed", err)
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opGrantCollaborator, "query_failed", err,
			zap.String("article_id", input.ArticleID), zap.String("user_id", input.UserID))
		return nil, newServiceError(opGrantCollaborator, "query_failed", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opGrantCollaborator, "id_generation_failed", err)
		return nil, newServiceError(opGrantCollaborator, "id_generation_failed", err)
	}

	grant := &ArticleCollaborator{
		ID:          id,
		ArticleID:   input.ArticleID,
		UserID:      input.UserID,
		Permission:  input.Permission,
		InvitedByID: input.InvitedByID,
	}

	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent grant for the same pair.
			return nil, newServiceError(opGrantCollaborator, "duplicate_grant",
				fmt.Errorf("%w: user %s already collaborates on article %s",
					ErrConflict, input.UserID, input.ArticleID))
		}
		s.logError(opGrantCollaborator, "insert_failed", err,
			zap.String("article_id", input.ArticleID), zap.String("user_id", input.UserID))
		return nil, newServiceError(opGrantCollaborator, "insert_failed", err)
	}

	return grant, nil
}

// RevokeCollaborator removes a user's grant on an article.
func (s *Service) RevokeCollaborator(ctx context.Context, articleID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("article_id = ? AND user_id = ?", articleID, userID).
		Delete(&ArticleCollaborator{})
	if result.Error != nil {
		s.logError(opRevokeCollaborator, "delete_failed", result.Error,
			zap.String("article_id", articleID), zap.String("user_id", userID))
		return newServiceError(opRevokeCollaborator, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opRevokeCollaborator, "not_found",
			fmt.Errorf("%w: no grant for user %s on article %s", ErrNotFound, userID, articleID))
	}
	return nil
}

// CollaboratorPermission returns the tier granted to a user on an article.
// The external authorization layer queries this fact to gate writes.
func (s *Service) CollaboratorPermission(ctx context.Context, articleID, userID string) (Permission, error) {
	var grant ArticleCollaborator
	err := s.db.WithContext(ctx).
		Where("article_id = ? AND user_id = ?", articleID, userID).
		Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", newServiceError(opGetPermission, "not_found",
			fmt.Errorf("%w: no grant for user %s on article %s", ErrNotFound, userID, articleID))
	}
	if err != nil {
		s.logError(opGetPermission, "query_failed", err,
			zap.String("article_id", articleID), zap.String("user_id", userID))
		return "", newServiceError(opGetPermission, "query_failed", err)
	}
	return grant.Permission, nil
}

// ListCollaborators returns every grant on an article.
func (s *Service) ListCollaborators(ctx context.Context, articleID string) ([]ArticleCollaborator, error) {
	var grants []ArticleCollaborator
	if err := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("created_at ASC").
		Find(&grants).Error; err != nil {
		s.logError(opListCollaborators, "query_failed", err, zap.String("article_id", articleID))
		return nil, newServiceError(opListCollaborators, "query_failed", err)
	}
	return grants, nil
}
