package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates no record matches the lookup.
	ErrNotFound = errors.New("articles: not found")
	// ErrValidation indicates a write violates a field constraint.
	ErrValidation = errors.New("articles: validation failed")
	// ErrConflict indicates a concurrent write lost a uniqueness race at commit.
	ErrConflict = errors.New("articles: conflict")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// maxTreeDepth bounds section parent-chain walks; the storage layer does not
// prevent cycles, so traversals refuse to go deeper instead of looping.
const maxTreeDepth = 32

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
	opServiceNew     = "articles.service.new"
	opCreateArticle  = "articles.create_article"
	opCreateRevision = "articles.create_revision"
	opGetArticle     = "articles.get_article"
	opListArticles   = "articles.list_articles"
	opDeleteArticle  = "articles.delete_article"
	opGetRevision    = "articles.get_revision"
	opListRevisions  = "articles.list_revisions"
	opRevisionCount  = "articles.revision_count"
	opIncrementViews = "articles.increment_view_count"
	opRecordView     = "articles.record_view"
	opSetStatus      = "articles.set_status"
	opSetFeatured    = "articles.set_featured"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues primary-key identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the article service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages articles, their revision history, sections, collaborator
// grants and view analytics.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the article service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateArticleInput carries the already-validated field values for a new article.
type CreateArticleInput struct {
	Title      string
	Slug       string
	Content    string
	Summary    string
	Status     Status
	CategoryID *string
	Tags       []string
	AuthorID   string
	Featured   bool
}

// CreateArticle persists an article with its denormalized fields set directly;
// no revision exists yet. The slug derives from the title when absent.
func (s *Service) CreateArticle(ctx context.Context, input CreateArticleInput) (*Article, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opCreateArticle, "missing_title", fmt.Errorf("%w: title is required", ErrValidation))
	}
	if strings.TrimSpace(input.AuthorID) == "" {
		return nil, newServiceError(opCreateArticle, "missing_author", fmt.Errorf("%w: author is required", ErrValidation))
	}

	status := input.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.Valid() {
		return nil, newServiceError(opCreateArticle, "invalid_status", fmt.Errorf("%w: unknown status %q", ErrValidation, status))
	}

	articleSlug := strings.TrimSpace(input.Slug)
	if articleSlug == "" {
		articleSlug = slug.Make(title)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateArticle, "id_generation_failed", err)
		return nil, newServiceError(opCreateArticle, "id_generation_failed", err)
	}

	article := &Article{
		ID:             id,
		Title:          title,
		Slug:           articleSlug,
		CurrentContent: input.Content,
		CurrentSummary: input.Summary,
		Status:         status,
		CategoryID:     input.CategoryID,
		TagsJSON:       encodeTags(input.Tags),
		AuthorID:       input.AuthorID,
		Featured:       input.Featured,
	}

	if err := s.db.WithContext(ctx).Create(article).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opCreateArticle, "duplicate_slug",
				fmt.Errorf("%w: slug %q already in use", ErrValidation, articleSlug))
		}
		s.logError(opCreateArticle, "insert_failed", err, zap.String("slug", articleSlug))
		return nil, newServiceError(opCreateArticle, "insert_failed", err)
	}

	return article, nil
}

// CreateRevisionInput carries the field values for a new revision.
// VersionNumber zero requests automatic assignment.
type CreateRevisionInput struct {
	ArticleID     string
	EditorID      string
	Title         string
	Content       string
	Summary       string
	ChangeMessage string
	Tags          []string
	VersionNumber int
}

// CreateRevision appends a revision and promotes its content into the
// article's denormalized fields in the same transaction. The article row is
// locked for the duration so concurrent revision writes serialize and the
// article can never point at a revision it does not reflect.
func (s *Service) CreateRevision(ctx context.Context, input CreateRevisionInput) (*Revision, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opCreateRevision, "missing_title", fmt.Errorf("%w: title is required", ErrValidation))
	}
	if strings.TrimSpace(input.EditorID) == "" {
		return nil, newServiceError(opCreateRevision, "missing_editor", fmt.Errorf("%w: editor is required", ErrValidation))
	}
	if input.VersionNumber < 0 {
		return nil, newServiceError(opCreateRevision, "invalid_version",
			fmt.Errorf("%w: version number must be positive", ErrValidation))
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRevision, "id_generation_failed", err)
		return nil, newServiceError(opCreateRevision, "id_generation_failed", err)
	}

	revision := &Revision{
		ID:            id,
		ArticleID:     input.ArticleID,
		VersionNumber: input.VersionNumber,
		Title:         title,
		Content:       input.Content,
		Summary:       input.Summary,
		ChangeMessage: input.ChangeMessage,
		EditorID:      input.EditorID,
		TagsJSON:      encodeTags(input.Tags),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var article Article
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", input.ArticleID).
			Take(&article).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCreateRevision, "article_not_found",
				fmt.Errorf("%w: article %s", ErrNotFound, input.ArticleID))
		}
		if err != nil {
			s.logError(opCreateRevision, "article_select_failed", err, zap.String("article_id", input.ArticleID))
			return newServiceError(opCreateRevision, "article_select_failed", err)
		}

		if revision.VersionNumber == 0 {
			var maxVersion int
			row := tx.Model(&Revision{}).
				Where("article_id = ?", input.ArticleID).
				Select("COALESCE(MAX(version_number), 0)").
				Row()
			if err := row.Scan(&maxVersion); err != nil {
				s.logError(opCreateRevision, "version_scan_failed", err, zap.String("article_id", input.ArticleID))
				return newServiceError(opCreateRevision, "version_scan_failed", err)
			}
			revision.VersionNumber = maxVersion + 1
		}

		if err := tx.Create(revision).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opCreateRevision, "version_conflict",
					fmt.Errorf("%w: version %d already exists for article %s",
						ErrConflict, revision.VersionNumber, input.ArticleID))
			}
			s.logError(opCreateRevision, "revision_insert_failed", err, zap.String("article_id", input.ArticleID))
			return newServiceError(opCreateRevision, "revision_insert_failed", err)
		}

		article.Title = revision.Title
		article.CurrentContent = revision.Content
		article.CurrentSummary = revision.Summary
		article.TagsJSON = revision.TagsJSON
		article.LastEditorID = &revision.EditorID
		article.CurrentRevisionID = &revision.ID
		if err := tx.Save(&article).Error; err != nil {
			s.logError(opCreateRevision, "article_update_failed", err, zap.String("article_id", input.ArticleID))
			return newServiceError(opCreateRevision, "article_update_failed", err)
		}

		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return revision, nil
}

// GetArticle loads an article by primary key.
func (s *Service) GetArticle(ctx context.Context, articleID string) (*Article, error) {
	var article Article
	err := s.db.WithContext(ctx).Where("id = ?", articleID).Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetArticle, "not_found", fmt.Errorf("%w: article %s", ErrNotFound, articleID))
	}
	if err != nil {
		s.logError(opGetArticle, "query_failed", err, zap.String("article_id", articleID))
		return nil, newServiceError(opGetArticle, "query_failed", err)
	}
	return &article, nil
}

// GetArticleBySlug loads an article by its unique slug.
func (s *Service) GetArticleBySlug(ctx context.Context, articleSlug string) (*Article, error) {
	var article Article
	err := s.db.WithContext(ctx).Where("slug = ?", articleSlug).Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetArticle, "not_found", fmt.Errorf("%w: article %q", ErrNotFound, articleSlug))
	}
	if err != nil {
		s.logError(opGetArticle, "query_failed", err, zap.String("slug", articleSlug))
		return nil, newServiceError(opGetArticle, "query_failed", err)
	}
	return &article, nil
}

// ListByCategory returns articles in a category, most recently updated first.
func (s *Service) ListByCategory(ctx context.Context, categoryID string) ([]Article, error) {
	var found []Article
	if err := s.db.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Order("updated_at DESC").
		Find(&found).Error; err != nil {
		s.logError(opListArticles, "query_failed", err, zap.String("category_id", categoryID))
		return nil, newServiceError(opListArticles, "query_failed", err)
	}
	return found, nil
}

// SetStatus moves an article between lifecycle states.
func (s *Service) SetStatus(ctx context.Context, articleID string, status Status) error {
	if !status.Valid() {
		return newServiceError(opSetStatus, "invalid_status", fmt.Errorf("%w: unknown status %q", ErrValidation, status))
	}
	result := s.db.WithContext(ctx).Model(&Article{}).
		Where("id = ?", articleID).
		Update("status", status)
	if result.Error != nil {
		s.logError(opSetStatus, "update_failed", result.Error, zap.String("article_id", articleID))
		return newServiceError(opSetStatus, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSetStatus, "not_found", fmt.Errorf("%w: article %s", ErrNotFound, articleID))
	}
	return nil
}

// SetFeatured toggles the featured flag.
func (s *Service) SetFeatured(ctx context.Context, articleID string, featured bool) error {
	result := s.db.WithContext(ctx).Model(&Article{}).
		Where("id = ?", articleID).
		Update("featured", featured)
	if result.Error != nil {
		s.logError(opSetFeatured, "update_failed", result.Error, zap.String("article_id", articleID))
		return newServiceError(opSetFeatured, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSetFeatured, "not_found", fmt.Errorf("%w: article %s", ErrNotFound, articleID))
	}
	return nil
}

// GetRevision loads a revision by primary key.
func (s *Service) GetRevision(ctx context.Context, revisionID string) (*Revision, error) {
	var revision Revision
	err := s.db.WithContext(ctx).Where("id = ?", revisionID).Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetRevision, "not_found", fmt.Errorf("%w: revision %s", ErrNotFound, revisionID))
	}
	if err != nil {
		s.logError(opGetRevision, "query_failed", err, zap.String("revision_id", revisionID))
		return nil, newServiceError(opGetRevision, "query_failed", err)
	}
	return &revision, nil
}

// ListRevisions returns an article's revisions, newest version first.
func (s *Service) ListRevisions(ctx context.Context, articleID string) ([]Revision, error) {
	var revisions []Revision
	if err := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("version_number DESC").
		Find(&revisions).Error; err != nil {
		s.logError(opListRevisions, "query_failed", err, zap.String("article_id", articleID))
		return nil, newServiceError(opListRevisions, "query_failed", err)
	}
	return revisions, nil
}

// RevisionCount returns the number of revisions recorded for an article.
func (s *Service) RevisionCount(ctx context.Context, articleID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Revision{}).
		Where("article_id = ?", articleID).
		Count(&count).Error; err != nil {
		s.logError(opRevisionCount, "query_failed", err, zap.String("article_id", articleID))
		return 0, newServiceError(opRevisionCount, "query_failed", err)
	}
	return count, nil
}

// IsCurrent reports whether the revision is the one the owning article
// currently reflects.
func (s *Service) IsCurrent(ctx context.Context, revision *Revision) (bool, error) {
	article, err := s.GetArticle(ctx, revision.ArticleID)
	if err != nil {
		return false, err
	}
	return article.CurrentRevisionID != nil && *article.CurrentRevisionID == revision.ID, nil
}

// IncrementViewCount bumps the view counter with a single in-place update so
// concurrent viewers never lose increments.
func (s *Service) IncrementViewCount(ctx context.Context, articleID string) error {
	result := s.db.WithContext(ctx).Model(&Article{}).
		Where("id = ?", articleID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if result.Error != nil {
		s.logError(opIncrementViews, "update_failed", result.Error, zap.String("article_id", articleID))
		return newServiceError(opIncrementViews, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opIncrementViews, "not_found", fmt.Errorf("%w: article %s", ErrNotFound, articleID))
	}
	return nil
}

// ViewEvent describes one article view for the analytics trail.
type ViewEvent struct {
	ArticleID  string
	UserID     *string
	IPAddress  string
	UserAgent  string
	SessionKey string
}

// RecordView appends an analytics event and bumps the counter together.
func (s *Service) RecordView(ctx context.Context, event ViewEvent) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordView, "id_generation_failed", err)
		return newServiceError(opRecordView, "id_generation_failed", err)
	}

	record := &ArticleView{
		ID:         id,
		ArticleID:  event.ArticleID,
		UserID:     event.UserID,
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		SessionKey: event.SessionKey,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Article{}).
			Where("id = ?", event.ArticleID).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return newServiceError(opRecordView, "not_found", fmt.Errorf("%w: article %s", ErrNotFound, event.ArticleID))
		}
		return tx.Create(record).Error
	})
	if txErr != nil {
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return txErr
		}
		s.logError(opRecordView, "write_failed", txErr, zap.String("article_id", event.ArticleID))
		return newServiceError(opRecordView, "write_failed", txErr)
	}
	return nil
}

// DeleteArticle removes an article and everything it owns: revisions,
// sections, collaborator grants and view events, in one transaction.
func (s *Service) DeleteArticle(ctx context.Context, articleID string) error {
	if _, err := s.GetArticle(ctx, articleID); err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("article_id = ?", articleID).Delete(&Revision{}).Error; err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", articleID).Delete(&Section{}).Error; err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", articleID).Delete(&ArticleCollaborator{}).Error; err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", articleID).Delete(&ArticleView{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", articleID).Delete(&Article{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteArticle, "delete_failed", txErr, zap.String("article_id", articleID))
		return newServiceError(opDeleteArticle, "delete_failed", txErr)
	}
	return nil
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
	s.logger.Error("articles service error", attrs...)
}

// isUniqueViolation detects unique-index conflicts across the drivers the
// store may run on.
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
