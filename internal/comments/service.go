package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates no record matches the lookup.
	ErrNotFound = errors.New("comments: not found")
	// ErrValidation indicates a write violates a field constraint.
	ErrValidation = errors.New("comments: validation failed")
	// ErrConflict indicates a concurrent write lost a uniqueness race at commit.
	ErrConflict = errors.New("comments: conflict")
	// ErrPermissionDenied indicates the principal may not perform the operation.
	ErrPermissionDenied = errors.New("comments: permission denied")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// maxThreadDepth bounds parent-chain walks; threading has no storage-level
// cycle constraint, so traversals refuse to walk further instead of looping.
const maxThreadDepth = 32

// ServiceError wraps an underlying failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code identifying the failure site.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "comments.service.new"
	opPostComment    = "comments.post_comment"
	opEditComment    = "comments.edit_comment"
	opSetStatus      = "comments.set_status"
	opDeleteComment  = "comments.delete_comment"
	opGetComment     = "comments.get_comment"
	opListForSubject = "comments.list_for_subject"
	opCastVote       = "comments.cast_vote"
	opRemoveVote     = "comments.remove_vote"
	opReplyCount     = "comments.reply_count"
	opThreadRoot     = "comments.thread_root"
	opDepth          = "comments.depth"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues primary-key identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the comment service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages threaded comments and their vote tallies.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the comment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// PostCommentInput carries the field values for a new comment.
type PostCommentInput struct {
	Subject  SubjectRef
	Content  string
	AuthorID string
	ParentID *string
}

// PostComment creates an active comment with zero tallies. A parent must
// exist and be attached to the same subject.
func (s *Service) PostComment(ctx context.Context, input PostCommentInput) (*Comment, error) {
	if strings.TrimSpace(input.Subject.Type) == "" || strings.TrimSpace(input.Subject.ID) == "" {
		return nil, newServiceError(opPostComment, "missing_subject",
			fmt.Errorf("%w: subject type and id are required", ErrValidation))
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, newServiceError(opPostComment, "missing_content", fmt.Errorf("%w: content is required", ErrValidation))
	}
	if strings.TrimSpace(input.AuthorID) == "" {
		return nil, newServiceError(opPostComment, "missing_author", fmt.Errorf("%w: author is required", ErrValidation))
	}

	if input.ParentID != nil {
		parent, err := s.GetComment(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newServiceError(opPostComment, "unknown_parent",
					fmt.Errorf("%w: parent comment %s does not exist", ErrValidation, *input.ParentID))
			}
			return nil, err
		}
		if parent.Subject() != input.Subject {
			return nil, newServiceError(opPostComment, "parent_subject_mismatch",
				fmt.Errorf("%w: parent comment is attached to a different subject", ErrValidation))
		}
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPostComment, "id_generation_failed", err)
		return nil, newServiceError(opPostComment, "id_generation_failed", err)
	}

	comment := &Comment{
		ID:          id,
		SubjectType: input.Subject.Type,
		SubjectID:   input.Subject.ID,
		Content:     input.Content,
		AuthorID:    input.AuthorID,
		ParentID:    input.ParentID,
		Status:      StatusActive,
	}

	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		s.logError(opPostComment, "insert_failed", err,
			zap.String("subject_type", input.Subject.Type), zap.String("subject_id", input.Subject.ID))
		return nil, newServiceError(opPostComment, "insert_failed", err)
	}

	return comment, nil
}

// EditComment replaces a comment's content and stamps the edit time. Only
// the original author may edit.
func (s *Service) EditComment(ctx context.Context, commentID, editorID, content string) (*Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, newServiceError(opEditComment, "missing_content", fmt.Errorf("%w: content is required", ErrValidation))
	}

	comment, err := s.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != editorID {
		return nil, newServiceError(opEditComment, "not_author",
			fmt.Errorf("%w: only the author can edit a comment", ErrPermissionDenied))
	}

	editedAt := s.clock().UTC()
	comment.Content = content
	comment.EditedAt = &editedAt
	if err := s.db.WithContext(ctx).Save(comment).Error; err != nil {
		s.logError(opEditComment, "update_failed", err, zap.String("comment_id", commentID))
		return nil, newServiceError(opEditComment, "update_failed", err)
	}
	return comment, nil
}

// SetStatus moves a comment between moderation states.
func (s *Service) SetStatus(ctx context.Context, commentID string, status CommentStatus) error {
	if !status.Valid() {
		return newServiceError(opSetStatus, "invalid_status", fmt.Errorf("%w: unknown status %q", ErrValidation, status))
	}
	result := s.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ?", commentID).
		Update("status", status)
	if result.Error != nil {
		s.logError(opSetStatus, "update_failed", result.Error, zap.String("comment_id", commentID))
		return newServiceError(opSetStatus, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSetStatus, "not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
	}
	return nil
}

// DeleteComment removes a comment together with its reply subtree and every
// vote on those comments, in one transaction.
func (s *Service) DeleteComment(ctx context.Context, commentID string) error {
	if _, err := s.GetComment(ctx, commentID); err != nil {
		return err
	}

	subtree, err := s.collectThreadSubtree(ctx, commentID)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("comment_id IN ?", subtree).Delete(&CommentVote{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", subtree).Delete(&Comment{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteComment, "delete_failed", txErr, zap.String("comment_id", commentID))
		return newServiceError(opDeleteComment, "delete_failed", txErr)
	}
	return nil
}

// GetComment loads a comment by primary key.
func (s *Service) GetComment(ctx context.Context, commentID string) (*Comment, error) {
	var comment Comment
	err := s.db.WithContext(ctx).Where("id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetComment, "not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
	}
	if err != nil {
		s.logError(opGetComment, "query_failed", err, zap.String("comment_id", commentID))
		return nil, newServiceError(opGetComment, "query_failed", err)
	}
	return &comment, nil
}

// ListForSubject returns every comment attached to a subject, newest first.
func (s *Service) ListForSubject(ctx context.Context, subject SubjectRef) ([]Comment, error) {
	var found []Comment
	if err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).
		Order("created_at DESC").
		Find(&found).Error; err != nil {
		s.logError(opListForSubject, "query_failed", err,
			zap.String("subject_type", subject.Type), zap.String("subject_id", subject.ID))
		return nil, newServiceError(opListForSubject, "query_failed", err)
	}
	return found, nil
}

// CastVote records or updates a user's vote and adjusts the comment tallies
// in the same transaction. A fresh vote increments its bucket; a changed
// vote moves one count between buckets; a repeated identical vote re-saves
// the record and leaves the tallies untouched. The comment row is locked so
// concurrent votes from different users serialize on the tally update.
func (s *Service) CastVote(ctx context.Context, commentID, userID string, voteType VoteType) (*Comment, error) {
	if !voteType.Valid() {
		return nil, newServiceError(opCastVote, "invalid_vote_type",
			fmt.Errorf("%w: unknown vote type %q", ErrValidation, voteType))
	}
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opCastVote, "missing_user", fmt.Errorf("%w: user is required", ErrValidation))
	}

	var updated Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment Comment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", commentID).
			Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCastVote, "comment_not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
		}
		if err != nil {
			s.logError(opCastVote, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opCastVote, "comment_select_failed", err)
		}

		var vote CommentVote
		err = tx.Where("comment_id = ? AND user_id = ?", commentID, userID).Take(&vote).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			id, idErr := s.idProvider.NewID()
			if idErr != nil {
				s.logError(opCastVote, "id_generation_failed", idErr)
				return newServiceError(opCastVote, "id_generation_failed", idErr)
			}
			vote = CommentVote{ID: id, CommentID: commentID, UserID: userID, VoteType: voteType}
			if err := tx.Create(&vote).Error; err != nil {
				if isUniqueViolation(err) {
					return newServiceError(opCastVote, "duplicate_vote",
						fmt.Errorf("%w: user %s already voted on comment %s", ErrConflict, userID, commentID))
				}
				s.logError(opCastVote, "vote_insert_failed", err, zap.String("comment_id", commentID))
				return newServiceError(opCastVote, "vote_insert_failed", err)
			}
			applyTally(&comment, voteType, 1)

		case err != nil:
			s.logError(opCastVote, "vote_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opCastVote, "vote_select_failed", err)

		case vote.VoteType == voteType:
			// Same direction: the vote record is re-saved, tallies stay put.
			if err := tx.Save(&vote).Error; err != nil {
				s.logError(opCastVote, "vote_update_failed", err, zap.String("comment_id", commentID))
				return newServiceError(opCastVote, "vote_update_failed", err)
			}

		default:
			previous := vote.VoteType
			vote.VoteType = voteType
			if err := tx.Save(&vote).Error; err != nil {
				s.logError(opCastVote, "vote_update_failed", err, zap.String("comment_id", commentID))
				return newServiceError(opCastVote, "vote_update_failed", err)
			}
			applyTally(&comment, previous, -1)
			applyTally(&comment, voteType, 1)
		}

		if err := tx.Save(&comment).Error; err != nil {
			s.logError(opCastVote, "tally_update_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opCastVote, "tally_update_failed", err)
		}
		updated = comment
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return &updated, nil
}

// RemoveVote deletes a user's vote and decrements the matching tally in the
// same transaction.
func (s *Service) RemoveVote(ctx context.Context, commentID, userID string) (*Comment, error) {
	var updated Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment Comment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", commentID).
			Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRemoveVote, "comment_not_found", fmt.Errorf("%w: comment %s", ErrNotFound, commentID))
		}
		if err != nil {
			s.logError(opRemoveVote, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opRemoveVote, "comment_select_failed", err)
		}

		var vote CommentVote
		err = tx.Where("comment_id = ? AND user_id = ?", commentID, userID).Take(&vote).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRemoveVote, "vote_not_found",
				fmt.Errorf("%w: no vote by user %s on comment %s", ErrNotFound, userID, commentID))
		}
		if err != nil {
			s.logError(opRemoveVote, "vote_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opRemoveVote, "vote_select_failed", err)
		}

		if err := tx.Delete(&vote).Error; err != nil {
			s.logError(opRemoveVote, "vote_delete_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opRemoveVote, "vote_delete_failed", err)
		}
		applyTally(&comment, vote.VoteType, -1)

		if err := tx.Save(&comment).Error; err != nil {
			s.logError(opRemoveVote, "tally_update_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opRemoveVote, "tally_update_failed", err)
		}
		updated = comment
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return &updated, nil
}

// ReplyCount returns the number of direct replies still in the active state.
func (s *Service) ReplyCount(ctx context.Context, commentID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Comment{}).
		Where("parent_id = ? AND status = ?", commentID, StatusActive).
		Count(&count).Error; err != nil {
		s.logError(opReplyCount, "query_failed", err, zap.String("comment_id", commentID))
		return 0, newServiceError(opReplyCount, "query_failed", err)
	}
	return count, nil
}

// ThreadRoot walks the parent chain to the comment that starts the thread.
func (s *Service) ThreadRoot(ctx context.Context, commentID string) (*Comment, error) {
	comment, err := s.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	for hop := 0; comment.ParentID != nil; hop++ {
		if hop >= maxThreadDepth {
			return nil, newServiceError(opThreadRoot, "thread_too_deep",
				fmt.Errorf("%w: parent chain exceeds %d hops, possible cycle", ErrValidation, maxThreadDepth))
		}
		comment, err = s.GetComment(ctx, *comment.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return comment, nil
}

// Depth returns the number of hops from the comment to its thread root.
func (s *Service) Depth(ctx context.Context, commentID string) (int, error) {
	comment, err := s.GetComment(ctx, commentID)
	if err != nil {
		return 0, err
	}
	depth := 0
	for comment.ParentID != nil {
		if depth >= maxThreadDepth {
			return 0, newServiceError(opDepth, "thread_too_deep",
				fmt.Errorf("%w: parent chain exceeds %d hops, possible cycle", ErrValidation, maxThreadDepth))
		}
		comment, err = s.GetComment(ctx, *comment.ParentID)
		if err != nil {
			return 0, err
		}
		depth++
	}
	return depth, nil
}

// collectThreadSubtree gathers a comment and all descendant replies.
func (s *Service) collectThreadSubtree(ctx context.Context, commentID string) ([]string, error) {
	collected := []string{commentID}
	frontier := []string{commentID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxThreadDepth {
			return nil, newServiceError(opDeleteComment, "thread_too_deep",
				fmt.Errorf("%w: reply tree exceeds %d levels, possible cycle", ErrValidation, maxThreadDepth))
		}
		var next []Comment
		if err := s.db.WithContext(ctx).Where("parent_id IN ?", frontier).Find(&next).Error; err != nil {
			s.logError(opDeleteComment, "subtree_query_failed", err, zap.String("comment_id", commentID))
			return nil, newServiceError(opDeleteComment, "subtree_query_failed", err)
		}
		frontier = frontier[:0]
		for _, comment := range next {
			collected = append(collected, comment.ID)
			frontier = append(frontier, comment.ID)
		}
	}
	return collected, nil
}

func applyTally(comment *Comment, voteType VoteType, delta int) {
	if voteType == VoteUp {
		comment.Upvotes += delta
	} else {
		comment.Downvotes += delta
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("comments service error", attrs...)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
