package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/services"
)

// RuleHandler handles categorisation rule requests.
type RuleHandler struct {
	ruleService  services.RuleServicer
	auditService services.AuditServicer
}

// NewRuleHandler creates a new RuleHandler.
func NewRuleHandler(ruleService services.RuleServicer, auditService services.AuditServicer) *RuleHandler {
	return &RuleHandler{ruleService: ruleService, auditService: auditService}
}

// CreateRuleRequest represents the request payload for creating a rule.
type CreateRuleRequest struct {
	Pattern    string  `json:"pattern" binding:"required,max=255"`
	CategoryID *string `json:"category_id"`
	Priority   int     `json:"priority"`
}

// UpdateRuleRequest represents the request payload for updating a rule.
// An empty category_id detaches the rule from its category.
type UpdateRuleRequest struct {
	Pattern    *string `json:"pattern" binding:"omitempty,max=255"`
	CategoryID *string `json:"category_id"`
	Priority   *int    `json:"priority"`
}

// MatchRuleRequest carries a description to run through the rules.
type MatchRuleRequest struct {
	Description string `json:"description" binding:"required,max=500"`
}

// MatchRuleResponse reports the category the rules would assign.
type MatchRuleResponse struct {
	Description string  `json:"description"`
	CategoryID  *string `json:"category_id"`
	Matched     bool    `json:"matched"`
}

// CreateRule handles the creation of a categorisation rule
// @Summary     Create a categorisation rule
// @Description Create a rule assigning a category to transactions whose description contains the pattern (case-insensitive)
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateRuleRequest true "Rule details"
// @Success     201 {object} models.CategorisationRule "Rule created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Category not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	categoryID, err := parseOptionalID(req.CategoryID, "category_id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	rule, err := h.ruleService.CreateRule(c.Request.Context(), userID, req.Pattern, categoryID, req.Priority)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// GetUserRules handles listing the user's rules
// @Summary     List categorisation rules
// @Description Get a page of rules in evaluation order (priority descending, then oldest first)
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Page size (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.CategorisationRule] "Paginated rules"
// @Failure     400 {object} ErrorResponse "Invalid pagination"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules [get]
func (h *RuleHandler) GetUserRules(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	page, err := bindPage(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.ruleService.GetUserRules(c.Request.Context(), userID, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpdateRule handles updating a rule
// @Summary     Update a categorisation rule
// @Description Update a rule's pattern, category or priority
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string            true "Rule ID"
// @Param       request body UpdateRuleRequest true "Fields to update"
// @Success     200 {object} models.CategorisationRule "Updated rule"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Rule or category not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	ruleID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	fields := services.RuleUpdateFields{
		Pattern:  req.Pattern,
		Priority: req.Priority,
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			fields.ClearCategory = true
		} else if fields.CategoryID, err = parseOptionalID(req.CategoryID, "category_id"); err != nil {
			respondWithError(c, err)
			return
		}
	}

	rule, err := h.ruleService.UpdateRule(c.Request.Context(), userID, ruleID, fields)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// DeleteRule handles deleting a rule
// @Summary     Delete a categorisation rule
// @Description Delete a rule by ID
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Rule ID"
// @Success     200 {object} MessageResponse "Rule deleted"
// @Failure     400 {object} ErrorResponse "Invalid rule ID"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Rule not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	ruleID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.ruleService.DeleteRule(c.Request.Context(), userID, ruleID); err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(c.Request.Context(), userID, "DELETE_RULE", "rule", ruleID, c.ClientIP(), nil)

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// MatchRule runs a description through the user's rules
// @Summary     Test a description against the rules
// @Description Returns the category the rules would assign to a transaction with this description
// @Tags        rules
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body MatchRuleRequest true "Description to test"
// @Success     200 {object} MatchRuleResponse "Match result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /rules/match [post]
func (h *RuleHandler) MatchRule(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req MatchRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	categoryID, err := h.ruleService.Match(c.Request.Context(), userID, req.Description)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, MatchRuleResponse{
		Description: req.Description,
		CategoryID:  categoryID,
		Matched:     categoryID != nil,
	})
}
