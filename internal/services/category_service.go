package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
)

// categoryService handles category-related business logic.
type categoryService struct {
	db *gorm.DB
}

// NewCategoryService creates a new CategoryServicer.
func NewCategoryService(db *gorm.DB) CategoryServicer {
	return &categoryService{db: db}
}

// CreateCategory creates a new category
func (s *categoryService) CreateCategory(
	ctx context.Context,
	userID string,
	name string,
	categoryType models.CategoryType,
	description string,
	icon string,
	color string,
	parentID *string,
) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category name is required")
	}

	db := s.db.WithContext(ctx)

	// Names are unique per user
	var count int64
	if err := db.Model(&models.Category{}).
		Where("user_id = ? AND name = ?", userID, name).
		Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category with this name already exists")
	}

	if parentID != nil && *parentID == "" {
		parentID = nil
	}
	if parentID != nil {
		if err := s.checkParent(ctx, userID, *parentID); err != nil {
			return nil, err
		}
	}

	category := &models.Category{
		UserID:      userID,
		Name:        name,
		Type:        categoryType,
		Description: description,
		Icon:        icon,
		Color:       color,
		ParentID:    parentID,
	}

	if err := db.Create(category).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return category, nil
}

// GetUserCategories retrieves a paginated list of categories for a user.
func (s *categoryService) GetUserCategories(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error) {
	base := s.db.WithContext(ctx).Model(&models.Category{}).Where("user_id = ?", userID)
	result, err := pagination.FetchPage[models.Category](base, page, "name ASC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetUserCategoriesByType retrieves a paginated list of categories of a specific type for a user.
func (s *categoryService) GetUserCategoriesByType(ctx context.Context, userID string, categoryType models.CategoryType, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error) {
	base := s.db.WithContext(ctx).Model(&models.Category{}).Where("user_id = ? AND type = ?", userID, categoryType)
	result, err := pagination.FetchPage[models.Category](base, page, "name ASC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetCategoryByID retrieves a category by ID for a specific user
func (s *categoryService) GetCategoryByID(ctx context.Context, userID, categoryID string) (*models.Category, error) {
	var category models.Category
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCategoryNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &category, nil
}

// UpdateCategory updates an existing category. An empty parentID detaches
// the category from its parent.
func (s *categoryService) UpdateCategory(
	ctx context.Context,
	userID string,
	categoryID string,
	name string,
	description string,
	icon string,
	color string,
	parentID *string,
) (*models.Category, error) {
	category, err := s.GetCategoryByID(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}

	if parentID != nil && *parentID != "" {
		if *parentID == categoryID {
			return nil, apperrors.ErrSelfParentCategory
		}
		if err := s.checkParent(ctx, userID, *parentID); err != nil {
			return nil, err
		}
	}

	updates := make(map[string]interface{})
	if name = strings.TrimSpace(name); name != "" {
		updates["name"] = name
	}
	if description != "" {
		updates["description"] = description
	}
	if icon != "" {
		updates["icon"] = icon
	}
	if color != "" {
		updates["color"] = color
	}
	if parentID != nil {
		if *parentID == "" {
			updates["parent_id"] = nil
		} else {
			updates["parent_id"] = *parentID
		}
	}

	if len(updates) > 0 {
		db := s.db.WithContext(ctx)
		if err := db.Model(category).Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.GetCategoryByID(ctx, userID, categoryID)
	}

	return category, nil
}

// DeleteCategory soft-deletes a category. Transactions keep their reference
// for history; rules pointing at it stop categorising.
func (s *categoryService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	category, err := s.GetCategoryByID(ctx, userID, categoryID)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)

	var childCount int64
	if err := db.Model(&models.Category{}).Where("parent_id = ?", categoryID).Count(&childCount).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if childCount > 0 {
		return apperrors.ErrCategoryHasChildren
	}

	var budgetCount int64
	if err := db.Model(&models.Budget{}).Where("category_id = ? AND is_active = ?", categoryID, true).Count(&budgetCount).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if budgetCount > 0 {
		return apperrors.ErrCategoryInUse
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CategorisationRule{}).
			Where("user_id = ? AND category_id = ?", userID, categoryID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(category).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *categoryService) checkParent(ctx context.Context, userID, parentID string) error {
	var parent models.Category
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", parentID, userID).First(&parent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.WithMessage(apperrors.ErrCategoryNotFound, "parent category not found")
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}
