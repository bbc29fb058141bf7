package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
	"ledgercore/internal/services"
)

const testRuleID = "0190a3c4-0000-7000-8000-0000000000e1"

type mockRuleService struct {
	createRuleFn   func(userID, pattern string, categoryID *string, priority int) (*models.CategorisationRule, error)
	getUserRulesFn func(userID string, page pagination.PageRequest) (*pagination.PageResponse[models.CategorisationRule], error)
	updateRuleFn   func(userID, ruleID string, fields services.RuleUpdateFields) (*models.CategorisationRule, error)
	deleteRuleFn   func(userID, ruleID string) error
	matchFn        func(userID, description string) (*string, error)
}

var _ services.RuleServicer = (*mockRuleService)(nil)

func (m *mockRuleService) CreateRule(_ context.Context, userID, pattern string, categoryID *string, priority int) (*models.CategorisationRule, error) {
	if m.createRuleFn != nil {
		return m.createRuleFn(userID, pattern, categoryID, priority)
	}
	return &models.CategorisationRule{}, nil
}

func (m *mockRuleService) GetUserRules(_ context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.CategorisationRule], error) {
	if m.getUserRulesFn != nil {
		return m.getUserRulesFn(userID, page)
	}
	resp := pagination.NewPageResponse([]models.CategorisationRule{}, 1, 20, 0)
	return &resp, nil
}

func (m *mockRuleService) GetRuleByID(_ context.Context, _, ruleID string) (*models.CategorisationRule, error) {
	return &models.CategorisationRule{Base: models.Base{ID: ruleID}}, nil
}

func (m *mockRuleService) UpdateRule(_ context.Context, userID, ruleID string, fields services.RuleUpdateFields) (*models.CategorisationRule, error) {
	if m.updateRuleFn != nil {
		return m.updateRuleFn(userID, ruleID, fields)
	}
	return &models.CategorisationRule{}, nil
}

func (m *mockRuleService) DeleteRule(_ context.Context, userID, ruleID string) error {
	if m.deleteRuleFn != nil {
		return m.deleteRuleFn(userID, ruleID)
	}
	return nil
}

func (m *mockRuleService) ListRulesForMatching(_ context.Context, _ string) ([]models.CategorisationRule, error) {
	return nil, nil
}

func (m *mockRuleService) Match(_ context.Context, userID, description string) (*string, error) {
	if m.matchFn != nil {
		return m.matchFn(userID, description)
	}
	return nil, nil
}

func setupRuleRouter(handler *RuleHandler) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUserID(testUserID))
	auth.POST("/rules", handler.CreateRule)
	auth.GET("/rules", handler.GetUserRules)
	auth.POST("/rules/match", handler.MatchRule)
	auth.PUT("/rules/:id", handler.UpdateRule)
	auth.DELETE("/rules/:id", handler.DeleteRule)
	return r
}

func TestRuleHandler_CreateRule(t *testing.T) {
	t.Run("returns 201 on success", func(t *testing.T) {
		var gotPriority int
		var gotCategory *string
		ruleSvc := &mockRuleService{
			createRuleFn: func(userID, pattern string, categoryID *string, priority int) (*models.CategorisationRule, error) {
				gotPriority = priority
				gotCategory = categoryID
				return &models.CategorisationRule{Base: models.Base{ID: testRuleID}, UserID: userID, Pattern: pattern, CategoryID: categoryID, Priority: priority}, nil
			},
		}
		r := setupRuleRouter(NewRuleHandler(ruleSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/rules", `{"pattern":"TESCO","category_id":"`+testCategoryID+`","priority":10}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if gotPriority != 10 {
			t.Errorf("expected priority 10, got %d", gotPriority)
		}
		if gotCategory == nil || *gotCategory != testCategoryID {
			t.Errorf("expected category %s, got %v", testCategoryID, gotCategory)
		}
		rule := parseJSON(t, rec)["rule"].(map[string]interface{})
		if rule["pattern"] != "TESCO" {
			t.Errorf("expected pattern TESCO, got %v", rule["pattern"])
		}
	})

	t.Run("returns 400 on missing pattern", func(t *testing.T) {
		r := setupRuleRouter(NewRuleHandler(&mockRuleService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/rules", `{"priority":1}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INVALID_INPUT")
	})

	t.Run("returns 404 on foreign category", func(t *testing.T) {
		ruleSvc := &mockRuleService{
			createRuleFn: func(_, _ string, _ *string, _ int) (*models.CategorisationRule, error) {
				return nil, apperrors.ErrCategoryNotFound
			},
		}
		r := setupRuleRouter(NewRuleHandler(ruleSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/rules", `{"pattern":"uber","category_id":"`+testCategoryID+`"}`)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestRuleHandler_UpdateRule(t *testing.T) {
	t.Run("empty category clears it", func(t *testing.T) {
		var captured services.RuleUpdateFields
		ruleSvc := &mockRuleService{
			updateRuleFn: func(_, ruleID string, fields services.RuleUpdateFields) (*models.CategorisationRule, error) {
				captured = fields
				return &models.CategorisationRule{Base: models.Base{ID: ruleID}}, nil
			},
		}
		r := setupRuleRouter(NewRuleHandler(ruleSvc, &mockAuditService{}))

		rec := doRequest(r, "PUT", "/rules/"+testRuleID, `{"category_id":"","priority":3}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !captured.ClearCategory {
			t.Error("expected ClearCategory")
		}
		if captured.Priority == nil || *captured.Priority != 3 {
			t.Errorf("expected priority 3, got %v", captured.Priority)
		}
	})

	t.Run("returns 404 when rule missing", func(t *testing.T) {
		ruleSvc := &mockRuleService{
			updateRuleFn: func(_, _ string, _ services.RuleUpdateFields) (*models.CategorisationRule, error) {
				return nil, apperrors.ErrRuleNotFound
			},
		}
		r := setupRuleRouter(NewRuleHandler(ruleSvc, &mockAuditService{}))

		rec := doRequest(r, "PUT", "/rules/"+testRuleID, `{"pattern":"x"}`)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "RULE_NOT_FOUND")
	})
}

func TestRuleHandler_DeleteRule(t *testing.T) {
	audit := &mockAuditService{}
	r := setupRuleRouter(NewRuleHandler(&mockRuleService{}, audit))

	rec := doRequest(r, "DELETE", "/rules/"+testRuleID, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(audit.entries) != 1 || audit.entries[0].resourceID != testRuleID {
		t.Errorf("expected delete audit for %s, got %+v", testRuleID, audit.entries)
	}
}

func TestRuleHandler_MatchRule(t *testing.T) {
	t.Run("reports matched category", func(t *testing.T) {
		cat := testCategoryID
		ruleSvc := &mockRuleService{
			matchFn: func(_, description string) (*string, error) {
				if description != "TESCO STORES 2231" {
					t.Errorf("unexpected description %q", description)
				}
				return &cat, nil
			},
		}
		r := setupRuleRouter(NewRuleHandler(ruleSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/rules/match", `{"description":"TESCO STORES 2231"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		result := parseJSON(t, rec)
		if result["matched"] != true || result["category_id"] != testCategoryID {
			t.Errorf("expected match on %s, got %v", testCategoryID, result)
		}
	})

	t.Run("reports no match", func(t *testing.T) {
		r := setupRuleRouter(NewRuleHandler(&mockRuleService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/rules/match", `{"description":"unknown merchant"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		result := parseJSON(t, rec)
		if result["matched"] != false || result["category_id"] != nil {
			t.Errorf("expected no match, got %v", result)
		}
	})
}
