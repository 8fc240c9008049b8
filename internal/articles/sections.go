package articles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateSection = "articles.create_section"
	opUpdateSection = "articles.update_section"
	opDeleteSection = "articles.delete_section"
	opGetSection    = "articles.get_section"
	opListSections  = "articles.list_sections"
	opSectionLevel  = "articles.section_level"
	opSectionNumber = "articles.section_number"
)

// CreateSectionInput carries the field values for a new section.
type CreateSectionInput struct {
	ArticleID string
	Title     string
	Content   string
	Order     int
	ParentID  *string
}

// CreateSection persists one outline node. (article, order) must be unique
// and a parent must belong to the same article.
func (s *Service) CreateSection(ctx context.Context, input CreateSectionInput) (*Section, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opCreateSection, "missing_title", fmt.Errorf("%w: title is required", ErrValidation))
	}
	if input.Order < 0 {
		return nil, newServiceError(opCreateSection, "invalid_order",
			fmt.Errorf("%w: order must not be negative", ErrValidation))
	}
	if _, err := s.GetArticle(ctx, input.ArticleID); err != nil {
		return nil, err
	}
	if input.ParentID != nil {
		parent, err := s.GetSection(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newServiceError(opCreateSection, "unknown_parent",
					fmt.Errorf("%w: parent section %s does not exist", ErrValidation, *input.ParentID))
			}
			return nil, err
		}
		if parent.ArticleID != input.ArticleID {
			return nil, newServiceError(opCreateSection, "parent_article_mismatch",
				fmt.Errorf("%w: parent section belongs to a different article", ErrValidation))
		}
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSection, "id_generation_failed", err)
		return nil, newServiceError(opCreateSection, "id_generation_failed", err)
	}

	section := &Section{
		ID:        id,
		ArticleID: input.ArticleID,
		Title:     title,
		Content:   input.Content,
		Order:     input.Order,
		ParentID:  input.ParentID,
	}

	if err := s.db.WithContext(ctx).Create(section).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opCreateSection, "duplicate_order",
				fmt.Errorf("%w: order %d already used in article %s", ErrValidation, input.Order, input.ArticleID))
		}
		s.logError(opCreateSection, "insert_failed", err, zap.String("article_id", input.ArticleID))
		return nil, newServiceError(opCreateSection, "insert_failed", err)
	}

	return section, nil
}

// UpdateSectionInput carries optional section fields; nil leaves a field untouched.
type UpdateSectionInput struct {
	Title   *string
	Content *string
	Order   *int
}

// UpdateSection applies partial updates to a section's content and ordering.
func (s *Service) UpdateSection(ctx context.Context, sectionID string, input UpdateSectionInput) (*Section, error) {
	section, err := s.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, newServiceError(opUpdateSection, "missing_title", fmt.Errorf("%w: title is required", ErrValidation))
		}
		section.Title = title
	}
	if input.Content != nil {
		section.Content = *input.Content
	}
	if input.Order != nil {
		if *input.Order < 0 {
			return nil, newServiceError(opUpdateSection, "invalid_order",
				fmt.Errorf("%w: order must not be negative", ErrValidation))
		}
		section.Order = *input.Order
	}

	if err := s.db.WithContext(ctx).Save(section).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opUpdateSection, "duplicate_order",
				fmt.Errorf("%w: order %d already used in article %s", ErrValidation, section.Order, section.ArticleID))
		}
		s.logError(opUpdateSection, "update_failed", err, zap.String("section_id", sectionID))
		return nil, newServiceError(opUpdateSection, "update_failed", err)
	}

	return section, nil
}

// DeleteSection removes a section and its nested subsections.
func (s *Service) DeleteSection(ctx context.Context, sectionID string) error {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return err
	}

	subtree, err := s.collectSectionSubtree(ctx, sectionID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("id IN ?", subtree).Delete(&Section{}).Error; err != nil {
		s.logError(opDeleteSection, "delete_failed", err, zap.String("section_id", sectionID))
		return newServiceError(opDeleteSection, "delete_failed", err)
	}
	return nil
}

// GetSection loads a section by primary key.
func (s *Service) GetSection(ctx context.Context, sectionID string) (*Section, error) {
	var section Section
	err := s.db.WithContext(ctx).Where("id = ?", sectionID).Take(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetSection, "not_found", fmt.Errorf("%w: section %s", ErrNotFound, sectionID))
	}
	if err != nil {
		s.logError(opGetSection, "query_failed", err, zap.String("section_id", sectionID))
		return nil, newServiceError(opGetSection, "query_failed", err)
	}
	return &section, nil
}

// ListSections returns all sections of an article ordered by position.
func (s *Service) ListSections(ctx context.Context, articleID string) ([]Section, error) {
	var sections []Section
	if err := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("position ASC").
		Find(&sections).Error; err != nil {
		s.logError(opListSections, "query_failed", err, zap.String("article_id", articleID))
		return nil, newServiceError(opListSections, "query_failed", err)
	}
	return sections, nil
}

// SectionLevel returns the number of ancestor hops to the top level; a
// top-level section sits at level zero.
func (s *Service) SectionLevel(ctx context.Context, sectionID string) (int, error) {
	chain, err := s.sectionChain(ctx, opSectionLevel, sectionID)
	if err != nil {
		return 0, err
	}
	return len(chain) - 1, nil
}

// SectionNumber renders the hierarchical outline number, e.g. "2.3": the
// 1-based rank among same-parent siblings ordered by position, prefixed
// recursively by the parent's number.
func (s *Service) SectionNumber(ctx context.Context, sectionID string) (string, error) {
	chain, err := s.sectionChain(ctx, opSectionNumber, sectionID)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(chain))
	for _, section := range chain {
		rank, err := s.siblingRank(ctx, section)
		if err != nil {
			return "", err
		}
		parts = append(parts, strconv.Itoa(rank))
	}
	return strings.Join(parts, "."), nil
}

// siblingRank is the 1-based position of the section among sections sharing
// its (article, parent), ordered by position.
func (s *Service) siblingRank(ctx context.Context, section Section) (int, error) {
	query := s.db.WithContext(ctx).
		Where("article_id = ?", section.ArticleID).
		Order("position ASC")
	if section.ParentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *section.ParentID)
	}

	var siblings []Section
	if err := query.Find(&siblings).Error; err != nil {
		s.logError(opSectionNumber, "sibling_query_failed", err, zap.String("section_id", section.ID))
		return 0, newServiceError(opSectionNumber, "sibling_query_failed", err)
	}

	for index, sibling := range siblings {
		if sibling.ID == section.ID {
			return index + 1, nil
		}
	}
	return 1, nil
}

// sectionChain returns the root-to-node path with the shared depth guard.
func (s *Service) sectionChain(ctx context.Context, operation, sectionID string) ([]Section, error) {
	var chain []Section
	currentID := sectionID
	for hop := 0; ; hop++ {
		if hop >= maxTreeDepth {
			return nil, newServiceError(operation, "tree_too_deep",
				fmt.Errorf("%w: parent chain exceeds %d hops, possible cycle", ErrValidation, maxTreeDepth))
		}
		section, err := s.GetSection(ctx, currentID)
		if err != nil {
			return nil, err
		}
		chain = append([]Section{*section}, chain...)
		if section.ParentID == nil {
			return chain, nil
		}
		currentID = *section.ParentID
	}
}

// collectSectionSubtree gathers a section and all descendants breadth-first.
func (s *Service) collectSectionSubtree(ctx context.Context, sectionID string) ([]string, error) {
	collected := []string{sectionID}
	frontier := []string{sectionID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxTreeDepth {
			return nil, newServiceError(opDeleteSection, "tree_too_deep",
				fmt.Errorf("%w: subtree exceeds %d levels, possible cycle", ErrValidation, maxTreeDepth))
		}
		var next []Section
		if err := s.db.WithContext(ctx).Where("parent_id IN ?", frontier).Find(&next).Error; err != nil {
			s.logError(opDeleteSection, "subtree_query_failed", err, zap.String("section_id", sectionID))
			return nil, newServiceError(opDeleteSection, "subtree_query_failed", err)
		}
		frontier = frontier[:0]
		for _, section := range next {
			collected = append(collected, section.ID)
			frontier = append(frontier, section.ID)
		}
	}
	return collected, nil
}
