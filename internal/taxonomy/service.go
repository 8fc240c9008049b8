package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no category matches the lookup.
	ErrNotFound = errors.New("taxonomy: not found")
	// ErrValidation indicates a write violates a field constraint.
	ErrValidation = errors.New("taxonomy: validation failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// maxTreeDepth bounds parent-chain walks. The hierarchy has no cycle
// constraint at the storage layer, so traversals refuse to walk further
// than this instead of recursing forever.
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
	opServiceNew = "taxonomy.service.new"
	opCreate     = "taxonomy.create_category"
	opUpdate     = "taxonomy.update_category"
	opDelete     = "taxonomy.delete_category"
	opGet        = "taxonomy.get_category"
	opFullPath   = "taxonomy.full_path"
	opLevel      = "taxonomy.level"
	opList       = "taxonomy.list_categories"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues primary-key identifiers for new categories.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the category service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages the category hierarchy.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the category service.
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

// CreateCategoryInput carries the field values for a new category.
type CreateCategoryInput struct {
	Name        string
	Slug        string
	Description string
	Color       string
	ParentID    *string
}

// CreateCategory persists a category, deriving the slug from the name when
// one is not supplied.
func (s *Service) CreateCategory(ctx context.Context, input CreateCategoryInput) (*Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, newServiceError(opCreate, "missing_name", fmt.Errorf("%w: name is required", ErrValidation))
	}

	categorySlug := strings.TrimSpace(input.Slug)
	if categorySlug == "" {
		categorySlug = slug.Make(name)
	}

	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = defaultColor
	}

	if input.ParentID != nil {
		if _, err := s.GetCategory(ctx, *input.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newServiceError(opCreate, "unknown_parent",
					fmt.Errorf("%w: parent category %s does not exist", ErrValidation, *input.ParentID))
			}
			return nil, err
		}
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, newServiceError(opCreate, "id_generation_failed", err)
	}

	category := &Category{
		ID:          id,
		Name:        name,
		Slug:        categorySlug,
		Description: input.Description,
		Color:       color,
		ParentID:    input.ParentID,
	}

	if err := s.db.WithContext(ctx).Create(category).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opCreate, "duplicate_category",
				fmt.Errorf("%w: name or slug already in use", ErrValidation))
		}
		s.logError(opCreate, "insert_failed", err, zap.String("name", name))
		return nil, newServiceError(opCreate, "insert_failed", err)
	}

	return category, nil
}

// UpdateCategoryInput carries optional category fields; nil leaves a field untouched.
type UpdateCategoryInput struct {
	Name        *string
	Slug        *string
	Description *string
	Color       *string
	ParentID    *string
	// ClearParent promotes the category to the top level.
	ClearParent bool
}

// UpdateCategory applies partial updates. When the name changes and no slug
// is supplied the slug is re-derived from the new name.
func (s *Service) UpdateCategory(ctx context.Context, categoryID string, input UpdateCategoryInput) (*Category, error) {
	category, err := s.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, newServiceError(opUpdate, "missing_name", fmt.Errorf("%w: name is required", ErrValidation))
		}
		if name != category.Name && input.Slug == nil {
			category.Slug = slug.Make(name)
		}
		category.Name = name
	}
	if input.Slug != nil {
		category.Slug = strings.TrimSpace(*input.Slug)
	}
	if input.Description != nil {
		category.Description = *input.Description
	}
	if input.Color != nil {
		category.Color = strings.TrimSpace(*input.Color)
	}
	if input.ClearParent {
		category.ParentID = nil
	} else if input.ParentID != nil {
		if *input.ParentID == categoryID {
			return nil, newServiceError(opUpdate, "self_parent",
				fmt.Errorf("%w: category cannot be its own parent", ErrValidation))
		}
		if _, err := s.GetCategory(ctx, *input.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newServiceError(opUpdate, "unknown_parent",
					fmt.Errorf("%w: parent category %s does not exist", ErrValidation, *input.ParentID))
			}
			return nil, err
		}
		category.ParentID = input.ParentID
	}

	if err := s.db.WithContext(ctx).Save(category).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opUpdate, "duplicate_category",
				fmt.Errorf("%w: name or slug already in use", ErrValidation))
		}
		s.logError(opUpdate, "update_failed", err, zap.String("category_id", categoryID))
		return nil, newServiceError(opUpdate, "update_failed", err)
	}

	return category, nil
}

// DeleteCategory removes a category and every descendant in one transaction.
// Articles referencing any deleted category keep existing with a null
// category reference.
func (s *Service) DeleteCategory(ctx context.Context, categoryID string) error {
	subtree, err := s.collectSubtree(ctx, categoryID)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SET NULL semantics enforced here rather than through driver-level
		// foreign key actions.
		if err := tx.Exec("UPDATE articles SET category_id = NULL WHERE category_id IN ?", subtree).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", subtree).Delete(&Category{}).Error
	})
	if txErr != nil {
		s.logError(opDelete, "delete_failed", txErr, zap.String("category_id", categoryID))
		return newServiceError(opDelete, "delete_failed", txErr)
	}

	return nil
}

// GetCategory loads a category by primary key.
func (s *Service) GetCategory(ctx context.Context, categoryID string) (*Category, error) {
	var category Category
	err := s.db.WithContext(ctx).Where("id = ?", categoryID).Take(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGet, "not_found", fmt.Errorf("%w: category %s", ErrNotFound, categoryID))
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("category_id", categoryID))
		return nil, newServiceError(opGet, "query_failed", err)
	}
	return &category, nil
}

// GetCategoryBySlug loads a category by its unique slug.
func (s *Service) GetCategoryBySlug(ctx context.Context, categorySlug string) (*Category, error) {
	var category Category
	err := s.db.WithContext(ctx).Where("slug = ?", categorySlug).Take(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGet, "not_found", fmt.Errorf("%w: category %q", ErrNotFound, categorySlug))
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("slug", categorySlug))
		return nil, newServiceError(opGet, "query_failed", err)
	}
	return &category, nil
}

// ListChildren returns the direct subcategories ordered by name.
func (s *Service) ListChildren(ctx context.Context, categoryID string) ([]Category, error) {
	var children []Category
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", categoryID).
		Order("name ASC").
		Find(&children).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("category_id", categoryID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return children, nil
}

// FullPath renders the display path from the root to the category, joined
// with " > ".
func (s *Service) FullPath(ctx context.Context, categoryID string) (string, error) {
	chain, err := s.ancestorChain(ctx, opFullPath, categoryID)
	if err != nil {
		return "", err
	}

	names := make([]string, len(chain))
	for i, category := range chain {
		names[i] = category.Name
	}
	return strings.Join(names, " > "), nil
}

// Level returns the number of ancestor hops to the root; top-level
// categories sit at level zero.
func (s *Service) Level(ctx context.Context, categoryID string) (int, error) {
	chain, err := s.ancestorChain(ctx, opLevel, categoryID)
	if err != nil {
		return 0, err
	}
	return len(chain) - 1, nil
}

// ancestorChain returns the root-to-node path, refusing to walk past
// maxTreeDepth hops so a corrupted parent cycle surfaces as an error.
func (s *Service) ancestorChain(ctx context.Context, operation, categoryID string) ([]Category, error) {
	var chain []Category
	currentID := categoryID
	for hop := 0; ; hop++ {
		if hop >= maxTreeDepth {
			return nil, newServiceError(operation, "tree_too_deep",
				fmt.Errorf("%w: parent chain exceeds %d hops, possible cycle", ErrValidation, maxTreeDepth))
		}
		category, err := s.GetCategory(ctx, currentID)
		if err != nil {
			return nil, err
		}
		chain = append([]Category{*category}, chain...)
		if category.ParentID == nil {
			return chain, nil
		}
		currentID = *category.ParentID
	}
}

// collectSubtree gathers the category and all descendants breadth-first.
func (s *Service) collectSubtree(ctx context.Context, categoryID string) ([]string, error) {
	if _, err := s.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	collected := []string{categoryID}
	frontier := []string{categoryID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxTreeDepth {
			return nil, newServiceError(opDelete, "tree_too_deep",
				fmt.Errorf("%w: subtree exceeds %d levels, possible cycle", ErrValidation, maxTreeDepth))
		}
		var next []Category
		if err := s.db.WithContext(ctx).Where("parent_id IN ?", frontier).Find(&next).Error; err != nil {
			s.logError(opDelete, "subtree_query_failed", err, zap.String("category_id", categoryID))
			return nil, newServiceError(opDelete, "subtree_query_failed", err)
		}
		frontier = frontier[:0]
		for _, category := range next {
			collected = append(collected, category.ID)
			frontier = append(frontier, category.ID)
		}
	}
	return collected, nil
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
	s.logger.Error("taxonomy service error", attrs...)
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
