package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ledgercore/internal/dates"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/services"
)

// TransactionHandler handles transaction-related requests.
type TransactionHandler struct {
	transactionService services.TransactionServicer
	recurringService   services.RecurringServicer
	auditService       services.AuditServicer
	now                func() time.Time
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(
	transactionService services.TransactionServicer,
	recurringService services.RecurringServicer,
	auditService services.AuditServicer,
) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		recurringService:   recurringService,
		auditService:       auditService,
		now:                time.Now,
	}
}

// CreateTransactionRequest represents the request payload for creating a transaction.
// A category is looked up from the categorisation rules when category_id is omitted.
type CreateTransactionRequest struct {
	AccountID         string                    `json:"account_id" binding:"required,uuid"`
	CategoryID        *string                   `json:"category_id"`
	Type              models.TransactionType    `json:"type" binding:"required,transaction_type"`
	Amount            decimal.Decimal           `json:"amount" binding:"decimal_positive"`
	Description       string                    `json:"description" binding:"max=255"`
	Date              *string                   `json:"date"`
	IsRecurring       bool                      `json:"is_recurring"`
	RecurrencePattern *models.RecurrencePattern `json:"recurrence_pattern" binding:"omitempty,recurrence_pattern"`
	NextRecurringDate *string                   `json:"next_recurring_date"`
	ExternalID        *string                   `json:"external_id" binding:"omitempty,max=128"`
}

// TransactionResponse represents a transaction in the response
type TransactionResponse struct {
	ID                string                    `json:"id"`
	UserID            string                    `json:"user_id"`
	AccountID         string                    `json:"account_id"`
	CategoryID        *string                   `json:"category_id,omitempty"`
	Type              models.TransactionType    `json:"type"`
	Amount            string                    `json:"amount"`
	Description       string                    `json:"description"`
	Date              time.Time                 `json:"date"`
	IsRecurring       bool                      `json:"is_recurring"`
	RecurrencePattern *models.RecurrencePattern `json:"recurrence_pattern,omitempty"`
	NextRecurringDate *time.Time                `json:"next_recurring_date,omitempty"`
	TemplateID        *string                   `json:"template_id,omitempty"`
}

// RecurringRunResponse reports how many occurrences a recurring run booked.
type RecurringRunResponse struct {
	Generated int       `json:"generated"`
	Today     time.Time `json:"today"`
}

// CreateTransaction handles the creation of a new transaction
// @Summary     Create a transaction
// @Description Create a new income or expense transaction for an account. Setting is_recurring turns it into a template.
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateTransactionRequest true "Transaction details"
// @Success     201 {object} TransactionResponse "Transaction created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Account or category not found"
// @Failure     409 {object} ErrorResponse "Duplicate external ID"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions [post]
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	categoryID, err := parseOptionalID(req.CategoryID, "category_id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	input := services.TransactionInput{
		AccountID:         req.AccountID,
		CategoryID:        categoryID,
		Type:              req.Type,
		Amount:            req.Amount,
		Description:       req.Description,
		Date:              dates.DateOf(h.now()),
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
		ExternalID:        req.ExternalID,
	}

	if req.Date != nil && *req.Date != "" {
		parsed, parseErr := parseDateField(*req.Date, "date")
		if parseErr != nil {
			respondWithError(c, parseErr)
			return
		}
		input.Date = parsed
	}

	if req.NextRecurringDate != nil && *req.NextRecurringDate != "" {
		parsed, parseErr := parseDateField(*req.NextRecurringDate, "next_recurring_date")
		if parseErr != nil {
			respondWithError(c, parseErr)
			return
		}
		input.NextRecurringDate = &parsed
	}

	transaction, err := h.transactionService.CreateTransaction(c.Request.Context(), userID, input)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(c.Request.Context(), userID, "CREATE_TRANSACTION", "transaction", transaction.ID, c.ClientIP(),
		map[string]interface{}{"type": req.Type, "amount": req.Amount.String(), "account_id": req.AccountID})

	c.JSON(http.StatusCreated, gin.H{"transaction": transaction})
}

// GetAccountTransactions handles the retrieval of all transactions for an account
// @Summary     Get account transactions
// @Description Get a page of transactions for a specific account with optional filters
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id           path  string false "Account ID"
// @Param       page         query int    false "Page number (default 1)"
// @Param       page_size    query int    false "Page size (default 20, max 100)"
// @Param       from_date    query string false "Filter from date (RFC3339 or YYYY-MM-DD)"
// @Param       to_date      query string false "Filter to date (RFC3339 or YYYY-MM-DD)"
// @Param       type         query string false "Filter by type (income, expense)"
// @Param       category_id  query string false "Filter by category ID"
// @Param       min_amount   query string false "Minimum amount"
// @Param       max_amount   query string false "Maximum amount"
// @Param       is_recurring query bool   false "Only templates (true) or only plain transactions (false)"
// @Success     200 {object} pagination.PageResponse[TransactionResponse] "Paginated transactions"
// @Failure     400 {object} ErrorResponse "Invalid account ID or filter"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Account not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /accounts/{id}/transactions [get]
func (h *TransactionHandler) GetAccountTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	accountID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	page, err := bindPage(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	filter, err := parseTransactionFilter(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.transactionService.GetAccountTransactions(c.Request.Context(), userID, accountID, page, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetUserTransactions handles listing transactions across all of the user's accounts
// @Summary     List transactions
// @Description Get a page of the authenticated user's transactions with optional filters
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       page         query int    false "Page number (default 1)"
// @Param       page_size    query int    false "Page size (default 20, max 100)"
// @Param       account_id   query string false "Filter by account ID"
// @Param       from_date    query string false "Filter from date (RFC3339 or YYYY-MM-DD)"
// @Param       to_date      query string false "Filter to date (RFC3339 or YYYY-MM-DD)"
// @Param       type         query string false "Filter by type (income, expense)"
// @Param       category_id  query string false "Filter by category ID"
// @Param       min_amount   query string false "Minimum amount"
// @Param       max_amount   query string false "Maximum amount"
// @Param       is_recurring query bool   false "Only templates (true) or only plain transactions (false)"
// @Success     200 {object} pagination.PageResponse[TransactionResponse] "Paginated transactions"
// @Failure     400 {object} ErrorResponse "Invalid filter"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions [get]
func (h *TransactionHandler) GetUserTransactions(c *gin.Context) {
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

	filter, err := parseTransactionFilter(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if v := c.Query("account_id"); v != "" {
		accountID, idErr := parseOptionalID(&v, "account_id")
		if idErr != nil {
			respondWithError(c, idErr)
			return
		}
		filter.AccountID = accountID
	}

	result, err := h.transactionService.GetUserTransactions(c.Request.Context(), userID, page, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseTransactionFilter(c *gin.Context) (services.TransactionFilter, error) {
	var filter services.TransactionFilter

	if v := c.Query("from_date"); v != "" {
		t, err := parseDateField(v, "from_date")
		if err != nil {
			return filter, err
		}
		filter.FromDate = &t
	}

	if v := c.Query("to_date"); v != "" {
		t, err := parseDateField(v, "to_date")
		if err != nil {
			return filter, err
		}
		filter.ToDate = &t
	}

	if v := c.Query("type"); v != "" {
		txType := models.TransactionType(v)
		if !txType.Valid() {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid type, must be income or expense")
		}
		filter.Type = &txType
	}

	if v := c.Query("category_id"); v != "" {
		catID, err := parseOptionalID(&v, "category_id")
		if err != nil {
			return filter, err
		}
		filter.CategoryID = catID
	}

	minAmount, err := parseDecimalQuery(c, "min_amount")
	if err != nil {
		return filter, err
	}
	filter.MinAmount = minAmount

	maxAmount, err := parseDecimalQuery(c, "max_amount")
	if err != nil {
		return filter, err
	}
	filter.MaxAmount = maxAmount

	if v := c.Query("is_recurring"); v != "" {
		recurring, err := strconv.ParseBool(v)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid is_recurring")
		}
		filter.IsRecurring = &recurring
	}

	return filter, nil
}

// GetTransactionByID handles the retrieval of a specific transaction
// @Summary     Get transaction by ID
// @Description Get a specific transaction by ID
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Transaction ID"
// @Success     200 {object} TransactionResponse "Transaction details"
// @Failure     400 {object} ErrorResponse "Invalid transaction ID"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions/{id} [get]
func (h *TransactionHandler) GetTransactionByID(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactionID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	transaction, err := h.transactionService.GetTransactionByID(c.Request.Context(), userID, transactionID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

// UpdateTransactionRequest represents the request payload for updating a transaction.
// An empty category_id clears the category.
type UpdateTransactionRequest struct {
	AccountID         *string                   `json:"account_id" binding:"omitempty,uuid"`
	CategoryID        *string                   `json:"category_id"`
	Type              *models.TransactionType   `json:"type" binding:"omitempty,transaction_type"`
	Amount            *decimal.Decimal          `json:"amount" binding:"omitempty,decimal_positive"`
	Description       *string                   `json:"description" binding:"omitempty,max=255"`
	Date              *string                   `json:"date"`
	IsRecurring       *bool                     `json:"is_recurring"`
	RecurrencePattern *models.RecurrencePattern `json:"recurrence_pattern" binding:"omitempty,recurrence_pattern"`
	NextRecurringDate *string                   `json:"next_recurring_date"`
}

// UpdateTransaction handles updating an existing transaction
// @Summary     Update transaction
// @Description Update an existing transaction. Balance effects move with the amount, type and account.
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                   true "Transaction ID"
// @Param       request body UpdateTransactionRequest true "Fields to update"
// @Success     200 {object} TransactionResponse "Updated transaction"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions/{id} [put]
func (h *TransactionHandler) UpdateTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	txID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	update := services.TransactionUpdate{
		AccountID:         req.AccountID,
		Type:              req.Type,
		Amount:            req.Amount,
		Description:       req.Description,
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
	}

	// nil in JSON = don't change; empty string = clear; otherwise set
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			update.ClearCategory = true
		} else {
			catID, idErr := parseOptionalID(req.CategoryID, "category_id")
			if idErr != nil {
				respondWithError(c, idErr)
				return
			}
			update.CategoryID = catID
		}
	}

	if req.Date != nil && *req.Date != "" {
		parsed, parseErr := parseDateField(*req.Date, "date")
		if parseErr != nil {
			respondWithError(c, parseErr)
			return
		}
		update.Date = &parsed
	}

	if req.NextRecurringDate != nil && *req.NextRecurringDate != "" {
		parsed, parseErr := parseDateField(*req.NextRecurringDate, "next_recurring_date")
		if parseErr != nil {
			respondWithError(c, parseErr)
			return
		}
		update.NextRecurringDate = &parsed
	}

	transaction, err := h.transactionService.UpdateTransaction(c.Request.Context(), userID, txID, update)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(c.Request.Context(), userID, "UPDATE_TRANSACTION", "transaction", txID, c.ClientIP(), nil)

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

// DeleteTransaction handles the deletion of a transaction
// @Summary     Delete transaction
// @Description Delete a transaction by ID and reverse its balance effect
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Transaction ID"
// @Success     200 {object} MessageResponse "Transaction deleted"
// @Failure     400 {object} ErrorResponse "Invalid transaction ID"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions/{id} [delete]
func (h *TransactionHandler) DeleteTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactionID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.transactionService.DeleteTransaction(c.Request.Context(), userID, transactionID); err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(c.Request.Context(), userID, services.AuditActionDeleteTransaction, "transaction", transactionID, c.ClientIP(), nil)

	c.JSON(http.StatusOK, gin.H{"message": "Transaction deleted successfully"})
}

// RunRecurring books every due occurrence of the user's recurring templates
// @Summary     Run recurring transactions
// @Description Generate all occurrences of the user's recurring templates due up to today, including missed periods
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} RecurringRunResponse "Number of generated transactions"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions/recurring/run [post]
func (h *TransactionHandler) RunRecurring(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	today := dates.DateOf(h.now())
	generated, err := h.recurringService.GenerateDue(c.Request.Context(), userID, today)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if generated > 0 {
		h.auditService.Log(c.Request.Context(), userID, services.AuditActionRecurringRun, "transaction", "", c.ClientIP(),
			map[string]interface{}{"generated": generated})
	}

	c.JSON(http.StatusOK, RecurringRunResponse{Generated: generated, Today: today})
}
