package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ledgercore/internal/dates"
	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// Date returns the UTC-midnight date for y-m-d.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal and fails the test on bad input.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

// CreateTestUser creates a user with a hashed password and unique email.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	email := fmt.Sprintf("user%d@test.com", nextID())
	return CreateTestUserWithEmail(t, db, email)
}

// CreateTestUserWithEmail creates a user with the given email.
func CreateTestUserWithEmail(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:    email,
		Password: string(hash),
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestAccount creates a checking account with zero balance.
func CreateTestAccount(t *testing.T, db *gorm.DB, userID string) *models.Account {
	t.Helper()
	return CreateTestAccountWithBalance(t, db, userID, decimal.Zero)
}

// CreateTestAccountWithBalance creates a checking account with the given opening balance.
func CreateTestAccountWithBalance(t *testing.T, db *gorm.DB, userID string, balance decimal.Decimal) *models.Account {
	t.Helper()

	account := &models.Account{
		UserID:   userID,
		Name:     fmt.Sprintf("Test Account %d", nextID()),
		Type:     models.AccountTypeChecking,
		Balance:  balance,
		Currency: "USD",
		IsActive: true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

// CreateTestCategory creates a category of the given type.
func CreateTestCategory(t *testing.T, db *gorm.DB, userID string, categoryType models.CategoryType) *models.Category {
	t.Helper()
	return CreateTestCategoryNamed(t, db, userID, categoryType, fmt.Sprintf("Test Category %d", nextID()))
}

// CreateTestCategoryNamed creates a category with an explicit name.
func CreateTestCategoryNamed(t *testing.T, db *gorm.DB, userID string, categoryType models.CategoryType, name string) *models.Category {
	t.Helper()

	category := &models.Category{
		UserID: userID,
		Name:   name,
		Type:   categoryType,
	}
	if err := db.Create(category).Error; err != nil {
		t.Fatalf("failed to create test category: %v", err)
	}
	return category
}

// CreateTestTransaction books a transaction dated today without touching the
// account balance.
func CreateTestTransaction(t *testing.T, db *gorm.DB, userID, accountID string, txType models.TransactionType, amount decimal.Decimal) *models.Transaction {
	t.Helper()
	return CreateTestTransactionOn(t, db, userID, accountID, nil, txType, amount, dates.DateOf(time.Now()))
}

// CreateTestTransactionOn books a transaction on date in categoryID without
// touching the account balance.
func CreateTestTransactionOn(t *testing.T, db *gorm.DB, userID, accountID string, categoryID *string, txType models.TransactionType, amount decimal.Decimal, date time.Time) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:      userID,
		AccountID:   accountID,
		CategoryID:  categoryID,
		Type:        txType,
		Amount:      amount,
		Description: fmt.Sprintf("Test Transaction %d", nextID()),
		Date:        date,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}
	return tx
}

// CreateTestRecurringTemplate creates a recurring template whose next
// occurrence is due on nextDue.
func CreateTestRecurringTemplate(t *testing.T, db *gorm.DB, userID, accountID string, txType models.TransactionType, amount decimal.Decimal, pattern models.RecurrencePattern, date, nextDue time.Time) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:            userID,
		AccountID:         accountID,
		Type:              txType,
		Amount:            amount,
		Description:       fmt.Sprintf("Recurring %d", nextID()),
		Date:              date,
		IsRecurring:       true,
		RecurrencePattern: &pattern,
		NextRecurringDate: &nextDue,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create recurring template: %v", err)
	}
	return tx
}

// CreateTestRule creates a categorisation rule.
func CreateTestRule(t *testing.T, db *gorm.DB, userID, pattern string, categoryID *string, priority int) *models.CategorisationRule {
	t.Helper()

	rule := &models.CategorisationRule{
		UserID:     userID,
		Pattern:    pattern,
		CategoryID: categoryID,
		Priority:   priority,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("failed to create test rule: %v", err)
	}
	return rule
}

// CreateTestBudget creates a monthly budget of 100.00 for the given category.
func CreateTestBudget(t *testing.T, db *gorm.DB, userID, categoryID string) *models.Budget {
	t.Helper()
	return CreateTestBudgetWithAmount(t, db, userID, categoryID, models.BudgetPeriodMonthly, decimal.NewFromInt(100))
}

// CreateTestBudgetWithAmount creates a budget with the given period and amount.
func CreateTestBudgetWithAmount(t *testing.T, db *gorm.DB, userID, categoryID string, period models.BudgetPeriod, amount decimal.Decimal) *models.Budget {
	t.Helper()

	budget := &models.Budget{
		UserID:     userID,
		CategoryID: categoryID,
		Name:       fmt.Sprintf("Test Budget %d", nextID()),
		Amount:     amount,
		Currency:   "USD",
		Period:     period,
		StartDate:  Date(2000, time.January, 1),
		IsActive:   true,
	}
	if err := db.Create(budget).Error; err != nil {
		t.Fatalf("failed to create test budget: %v", err)
	}
	return budget
}

// CreateTestAlertPreference stores an explicit alert preference for a budget.
func CreateTestAlertPreference(t *testing.T, db *gorm.DB, userID, budgetID string, threshold int, browser, email bool) *models.AlertPreference {
	t.Helper()

	pref := &models.AlertPreference{
		UserID:           userID,
		BudgetID:         budgetID,
		ThresholdPercent: threshold,
		BrowserAlerts:    browser,
		EmailAlerts:      email,
	}
	if err := db.Create(pref).Error; err != nil {
		t.Fatalf("failed to create alert preference: %v", err)
	}
	return pref
}

// ReloadAccount reads the account back from the database.
func ReloadAccount(t *testing.T, db *gorm.DB, accountID string) *models.Account {
	t.Helper()

	var account models.Account
	if err := db.First(&account, "id = ?", accountID).Error; err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	return &account
}

// AssertBalanceInvariant checks that the cached balance of accountID equals the
// signed sum of its transactions.
func AssertBalanceInvariant(t *testing.T, db *gorm.DB, accountID string) {
	t.Helper()

	var txs []models.Transaction
	if err := db.Where("account_id = ?", accountID).Find(&txs).Error; err != nil {
		t.Fatalf("failed to load transactions: %v", err)
	}
	sum := decimal.Zero
	for i := range txs {
		sum = sum.Add(txs[i].SignedAmount())
	}

	account := ReloadAccount(t, db, accountID)
	if !account.Balance.Equal(sum) {
		t.Errorf("balance %s does not match signed transaction sum %s", account.Balance, sum)
	}
}
