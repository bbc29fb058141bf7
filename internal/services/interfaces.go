package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ledgercore/internal/events"
	"ledgercore/internal/importer"
	"ledgercore/internal/models"
	"ledgercore/internal/notify"
	"ledgercore/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(ctx context.Context, email, password string) (*models.User, error)
	ListActiveUserIDs(ctx context.Context) ([]string, error)
}

// AccountUpdateFields holds the optional fields of an account update.
type AccountUpdateFields struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// AccountServicer defines the contract for account-related business logic.
type AccountServicer interface {
	CreateAccount(ctx context.Context, userID, name string, accountType models.AccountType, description, currency string, initialBalance decimal.Decimal) (*models.Account, error)
	GetUserAccounts(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Account], error)
	GetAccountByID(ctx context.Context, userID, accountID string) (*models.Account, error)
	UpdateAccount(ctx context.Context, userID, accountID string, fields AccountUpdateFields) (*models.Account, error)
	// AdjustBalance adds delta to the account's balance using tx. It must run
	// inside the database transaction that books the corresponding rows.
	AdjustBalance(tx *gorm.DB, accountID string, delta decimal.Decimal) error
}

// CategoryServicer defines the contract for category-related business logic.
type CategoryServicer interface {
	CreateCategory(ctx context.Context, userID, name string, categoryType models.CategoryType, description, icon, color string, parentID *string) (*models.Category, error)
	GetUserCategories(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	GetUserCategoriesByType(ctx context.Context, userID string, categoryType models.CategoryType, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	GetCategoryByID(ctx context.Context, userID, categoryID string) (*models.Category, error)
	UpdateCategory(ctx context.Context, userID, categoryID, name, description, icon, color string, parentID *string) (*models.Category, error)
	DeleteCategory(ctx context.Context, userID, categoryID string) error
}

// TransactionFilter holds optional filter parameters for listing transactions.
type TransactionFilter struct {
	FromDate    *time.Time
	ToDate      *time.Time
	Type        *models.TransactionType
	CategoryID  *string
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	AccountID   *string
	IsRecurring *bool
}

// TransactionInput is a new manual or feed-deposited transaction.
type TransactionInput struct {
	AccountID         string
	CategoryID        *string
	Type              models.TransactionType
	Amount            decimal.Decimal
	Description       string
	Date              time.Time
	IsRecurring       bool
	RecurrencePattern *models.RecurrencePattern
	NextRecurringDate *time.Time
	ExternalID        *string
}

// TransactionUpdate holds the optional fields of a transaction edit.
// ClearCategory removes the category; it wins over CategoryID.
type TransactionUpdate struct {
	AccountID         *string
	CategoryID        *string
	ClearCategory     bool
	Type              *models.TransactionType
	Amount            *decimal.Decimal
	Description       *string
	Date              *time.Time
	IsRecurring       *bool
	RecurrencePattern *models.RecurrencePattern
	NextRecurringDate *time.Time
}

// TransactionServicer defines the contract for transaction-related business logic.
type TransactionServicer interface {
	CreateTransaction(ctx context.Context, userID string, in TransactionInput) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, transactionID string, in TransactionUpdate) (*models.Transaction, error)
	GetAccountTransactions(ctx context.Context, userID, accountID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetUserTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) error
}

// RuleUpdateFields holds the optional fields of a rule update.
type RuleUpdateFields struct {
	Pattern       *string
	CategoryID    *string
	ClearCategory bool
	Priority      *int
}

// RuleServicer defines the contract for categorisation rules.
type RuleServicer interface {
	CreateRule(ctx context.Context, userID, pattern string, categoryID *string, priority int) (*models.CategorisationRule, error)
	GetUserRules(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.CategorisationRule], error)
	GetRuleByID(ctx context.Context, userID, ruleID string) (*models.CategorisationRule, error)
	UpdateRule(ctx context.Context, userID, ruleID string, fields RuleUpdateFields) (*models.CategorisationRule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error
	// ListRulesForMatching returns the user's rules in evaluation order.
	ListRulesForMatching(ctx context.Context, userID string) ([]models.CategorisationRule, error)
	// Match returns the category of the first matching rule, or nil.
	Match(ctx context.Context, userID, description string) (*string, error)
}

// RecurringServicer generates the due occurrences of recurring templates.
type RecurringServicer interface {
	GenerateDue(ctx context.Context, userID string, today time.Time) (int, error)
}

// ImportRequest is one bulk import of delimited text into an account.
type ImportRequest struct {
	RawText   string
	Mapping   importer.ColumnMapping
	AccountID string
	TypeMode  importer.TypeMode
}

// ImportResult reports the outcome of an import. Errors holds at most
// MaxImportErrors messages; Skipped counts every rejected row.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ImportPreview describes a file before it is imported.
type ImportPreview struct {
	Delimiter        string                  `json:"delimiter"`
	Header           []string                `json:"header"`
	Rows             [][]string              `json:"rows"`
	TotalRows        int                     `json:"total_rows"`
	SuggestedMapping *importer.ColumnMapping `json:"suggested_mapping,omitempty"`
}

// ImportServicer defines the contract for bulk CSV import.
type ImportServicer interface {
	Preview(ctx context.Context, userID, rawText string) (*ImportPreview, error)
	Import(ctx context.Context, userID string, req ImportRequest) (*ImportResult, error)
}

// BudgetProgress contains spending vs budget data for a budget's current period.
type BudgetProgress struct {
	BudgetID    string          `json:"budget_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Budgeted    decimal.Decimal `json:"budgeted"`
	Spent       decimal.Decimal `json:"spent"`
	Remaining   decimal.Decimal `json:"remaining"`
	Percentage  float64         `json:"percentage"`
}

// BudgetUpdateFields holds the optional fields of a budget update.
type BudgetUpdateFields struct {
	Name     *string
	Amount   *decimal.Decimal
	Period   *models.BudgetPeriod
	EndDate  *time.Time
	IsActive *bool
}

// AlertPreferenceInput replaces a budget's alert preference.
type AlertPreferenceInput struct {
	ThresholdPercent int
	BrowserAlerts    bool
	EmailAlerts      bool
}

// BudgetServicer defines the contract for budget-related business logic.
type BudgetServicer interface {
	CreateBudget(ctx context.Context, userID, categoryID, name string, amount decimal.Decimal, currency string, period models.BudgetPeriod, startDate time.Time, endDate *time.Time) (*models.Budget, error)
	GetUserBudgets(ctx context.Context, userID string, page pagination.PageRequest, isActive *bool, period *models.BudgetPeriod) (*pagination.PageResponse[models.Budget], error)
	GetBudgetByID(ctx context.Context, userID, budgetID string) (*models.Budget, error)
	UpdateBudget(ctx context.Context, userID, budgetID string, fields BudgetUpdateFields) (*models.Budget, error)
	DeleteBudget(ctx context.Context, userID, budgetID string) error
	GetBudgetProgress(ctx context.Context, userID, budgetID string) (*BudgetProgress, error)
	GetAlertPreference(ctx context.Context, userID, budgetID string) (*models.AlertPreference, error)
	UpsertAlertPreference(ctx context.Context, userID, budgetID string, in AlertPreferenceInput) (*models.AlertPreference, error)
}

// TriggeredAlert is a notification created by one evaluation, with the
// figures that caused it.
type TriggeredAlert struct {
	Notification models.Notification `json:"notification"`
	BudgetName   string              `json:"budget_name"`
	CategoryName string              `json:"category_name"`
	Percent      float64             `json:"percent"`
	Spent        decimal.Decimal     `json:"spent"`
	Amount       decimal.Decimal     `json:"amount"`
	Currency     string              `json:"currency"`
	Browser      bool                `json:"browser"`
}

// LedgerObserver is told, after commit, that a user's ledger changed.
// Implementations must not fail the caller.
type LedgerObserver interface {
	LedgerChanged(ctx context.Context, userID string)
}

// AlertServicer defines the contract for budget alert evaluation.
type AlertServicer interface {
	LedgerObserver
	Evaluate(ctx context.Context, userID string) ([]TriggeredAlert, error)
}

// NotificationServicer defines the contract for in-app notifications.
type NotificationServicer interface {
	GetUserNotifications(ctx context.Context, userID string, page pagination.PageRequest, unreadOnly bool) (*pagination.PageResponse[models.Notification], error)
	MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// EmailSender delivers budget alert emails.
type EmailSender interface {
	SendBudgetAlert(ctx context.Context, to string, alert notify.BudgetAlert) error
}

// AlertPublisher forwards alert events to an external delivery service.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, event events.AlertEvent) error
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(ctx context.Context, userID, action, resourceType, resourceID, ipAddress string, changes map[string]interface{})
}

// SweepReport summarises one sweep over all active users.
type SweepReport struct {
	Users     int           `json:"users"`
	Generated int           `json:"generated"`
	Alerts    int           `json:"alerts"`
	Failures  int           `json:"failures"`
	Duration  time.Duration `json:"duration"`
}

// SweepServicer runs recurring generation and alert evaluation for every active user.
type SweepServicer interface {
	Run(ctx context.Context, today time.Time) (*SweepReport, error)
}
