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

// ruleOrder is the evaluation order of a user's rules.
const ruleOrder = "priority DESC, created_at ASC, id ASC"

// ruleService manages categorisation rules and matches descriptions against them.
type ruleService struct {
	db *gorm.DB
}

// NewRuleService creates a new RuleServicer.
func NewRuleService(db *gorm.DB) RuleServicer {
	return &ruleService{db: db}
}

// CreateRule creates a rule. The category, when given, must belong to the user.
func (s *ruleService) CreateRule(ctx context.Context, userID, pattern string, categoryID *string, priority int) (*models.CategorisationRule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "pattern is required")
	}
	if err := s.checkCategory(ctx, userID, categoryID); err != nil {
		return nil, err
	}

	rule := &models.CategorisationRule{
		UserID:     userID,
		Pattern:    pattern,
		CategoryID: categoryID,
		Priority:   priority,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return rule, nil
}

// GetUserRules returns the user's rules in evaluation order.
func (s *ruleService) GetUserRules(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.CategorisationRule], error) {
	base := s.db.WithContext(ctx).Model(&models.CategorisationRule{}).Where("user_id = ?", userID)
	result, err := pagination.FetchPage[models.CategorisationRule](base, page, ruleOrder)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetRuleByID returns a rule if it belongs to the user.
func (s *ruleService) GetRuleByID(ctx context.Context, userID, ruleID string) (*models.CategorisationRule, error) {
	var rule models.CategorisationRule
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", ruleID, userID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRuleNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &rule, nil
}

// UpdateRule applies the given fields to a rule.
func (s *ruleService) UpdateRule(ctx context.Context, userID, ruleID string, fields RuleUpdateFields) (*models.CategorisationRule, error) {
	rule, err := s.GetRuleByID(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if fields.Pattern != nil {
		pattern := strings.TrimSpace(*fields.Pattern)
		if pattern == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "pattern must not be empty")
		}
		updates["pattern"] = pattern
	}
	switch {
	case fields.ClearCategory:
		updates["category_id"] = nil
	case fields.CategoryID != nil:
		if err := s.checkCategory(ctx, userID, fields.CategoryID); err != nil {
			return nil, err
		}
		updates["category_id"] = *fields.CategoryID
	}
	if fields.Priority != nil {
		updates["priority"] = *fields.Priority
	}

	if len(updates) > 0 {
		db := s.db.WithContext(ctx)
		if err := db.Model(rule).Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := db.Where("id = ?", rule.ID).First(rule).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}
	return rule, nil
}

// DeleteRule soft-deletes a rule.
func (s *ruleService) DeleteRule(ctx context.Context, userID, ruleID string) error {
	rule, err := s.GetRuleByID(ctx, userID, ruleID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(rule).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// ListRulesForMatching loads every rule of the user in evaluation order.
func (s *ruleService) ListRulesForMatching(ctx context.Context, userID string) ([]models.CategorisationRule, error) {
	var rules []models.CategorisationRule
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order(ruleOrder).Find(&rules).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return rules, nil
}

// Match returns the category of the user's first rule whose pattern occurs in
// description, ignoring case. It returns nil when nothing matches.
func (s *ruleService) Match(ctx context.Context, userID, description string) (*string, error) {
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}
	rules, err := s.ListRulesForMatching(ctx, userID)
	if err != nil {
		return nil, err
	}
	return MatchRules(rules, description), nil
}

// MatchRules runs description against rules, which must already be in
// evaluation order. Rules without a category never match.
func MatchRules(rules []models.CategorisationRule, description string) *string {
	if strings.TrimSpace(description) == "" {
		return nil
	}
	haystack := strings.ToLower(description)
	for i := range rules {
		rule := &rules[i]
		if rule.CategoryID == nil || rule.Pattern == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(rule.Pattern)) {
			id := *rule.CategoryID
			return &id
		}
	}
	return nil
}

func (s *ruleService) checkCategory(ctx context.Context, userID string, categoryID *string) error {
	if categoryID == nil {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ? AND user_id = ?", *categoryID, userID).
		Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count == 0 {
		return apperrors.ErrCategoryNotFound
	}
	return nil
}
