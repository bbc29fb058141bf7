package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"ledgercore/internal/importer"
	"ledgercore/internal/models"
	"ledgercore/internal/testutil"
)

var basicMapping = importer.ColumnMapping{Date: 0, Description: 1, Amount: 2}

func newTestImportService(t *testing.T, observer LedgerObserver) (*importService, func()) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := NewImportService(db, NewAccountService(db), NewRuleService(db), observer).(*importService)
	return svc, func() { testutil.TeardownTestDB(t, db) }
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("round_trip", func(t *testing.T) {
		observer := newRecordingObserver()
		svc, teardown := newTestImportService(t, observer)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)

		raw := "date,description,amount\n" +
			"2024-01-05,Coffee,-3.50\n" +
			"2024-01-06,Salary,2000.00\n" +
			"bad-date,X,5\n"

		result, err := svc.Import(ctx, user.ID, ImportRequest{RawText: raw, Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)

		if result.Imported != 2 || result.Skipped != 1 {
			t.Fatalf("expected imported=2 skipped=1, got %d/%d", result.Imported, result.Skipped)
		}
		if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "row 4:") {
			t.Errorf("expected one error for row 4, got %v", result.Errors)
		}
		if got := testutil.ReloadAccount(t, svc.db, account.ID).Balance; !got.Equal(testutil.Dec(t, "1996.50")) {
			t.Errorf("expected balance delta 1996.50, got %s", got)
		}
		testutil.AssertBalanceInvariant(t, svc.db, account.ID)

		var coffee models.Transaction
		svc.db.Where("description = ?", "Coffee").First(&coffee)
		if coffee.Type != models.TransactionTypeExpense || !coffee.Amount.Equal(testutil.Dec(t, "3.5")) {
			t.Errorf("expected positive expense amount, got %s %s", coffee.Type, coffee.Amount)
		}
		if observer.count(user.ID) != 1 {
			t.Errorf("expected one post-commit notification, got %d", observer.count(user.ID))
		}
	})

	t.Run("applies_rules", func(t *testing.T) {
		svc, teardown := newTestImportService(t, nil)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)
		cat := testutil.CreateTestCategory(t, svc.db, user.ID, models.CategoryTypeExpense)
		testutil.CreateTestRule(t, svc.db, user.ID, "coffee", &cat.ID, 0)

		raw := "date,description,amount\n2024-01-05,Blue Bottle COFFEE,-4\n2024-01-05,Rent,-900\n"
		_, err := svc.Import(ctx, user.ID, ImportRequest{RawText: raw, Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)

		var coffee, rent models.Transaction
		svc.db.Where("description = ?", "Blue Bottle COFFEE").First(&coffee)
		svc.db.Where("description = ?", "Rent").First(&rent)
		if coffee.CategoryID == nil || *coffee.CategoryID != cat.ID {
			t.Errorf("expected coffee to be categorised, got %v", coffee.CategoryID)
		}
		if rent.CategoryID != nil {
			t.Errorf("expected rent to stay uncategorised, got %v", *rent.CategoryID)
		}
	})

	t.Run("type_column_and_forced_mode", func(t *testing.T) {
		svc, teardown := newTestImportService(t, nil)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)

		typeCol := 3
		raw := "Date;Details;Amount;Direction\n13/05/2024;Refund;10,00;CREDIT\n14/05/2024;Shop;25,50;DEBIT\n"
		mapping := importer.ColumnMapping{Date: 0, Description: 1, Amount: 2, Type: &typeCol}
		result, err := svc.Import(ctx, user.ID, ImportRequest{RawText: raw, Mapping: mapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)
		if result.Imported != 2 {
			t.Fatalf("expected 2 imported, got %d (%v)", result.Imported, result.Errors)
		}
		if got := testutil.ReloadAccount(t, svc.db, account.ID).Balance; !got.Equal(testutil.Dec(t, "-15.5")) {
			t.Errorf("expected balance -15.5, got %s", got)
		}

		var refund models.Transaction
		svc.db.Where("description = ?", "Refund").First(&refund)
		if !refund.Date.Equal(testutil.Date(2024, 5, 13)) {
			t.Errorf("expected 2024-05-13, got %s", refund.Date)
		}

		other := testutil.CreateTestAccount(t, svc.db, user.ID)
		raw = "date,description,amount\n2024-01-01,Paycheck,100\n"
		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: raw, Mapping: basicMapping, AccountID: other.ID, TypeMode: importer.TypeModeExpense})
		testutil.AssertNoError(t, err)
		if got := testutil.ReloadAccount(t, svc.db, other.ID).Balance; !got.Equal(decimal.NewFromInt(-100)) {
			t.Errorf("expected forced expense, got balance %s", got)
		}
	})

	t.Run("large_file_in_batches", func(t *testing.T) {
		svc, teardown := newTestImportService(t, nil)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)

		var b strings.Builder
		b.WriteString("date,description,amount\n")
		for i := 0; i < 250; i++ {
			fmt.Fprintf(&b, "2024-02-%02d,Item %d,-1.00\n", i%28+1, i)
		}

		result, err := svc.Import(ctx, user.ID, ImportRequest{RawText: b.String(), Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)
		if result.Imported != 250 {
			t.Errorf("expected 250 imported, got %d", result.Imported)
		}
		if got := testutil.ReloadAccount(t, svc.db, account.ID).Balance; !got.Equal(decimal.NewFromInt(-250)) {
			t.Errorf("expected balance -250, got %s", got)
		}
	})

	t.Run("errors_capped", func(t *testing.T) {
		svc, teardown := newTestImportService(t, nil)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)

		var b strings.Builder
		b.WriteString("date,description,amount\n")
		for i := 0; i < 30; i++ {
			b.WriteString("2024-01-01,Zero,0\n")
		}
		b.WriteString("2024-01-01,Valid,7\n")

		result, err := svc.Import(ctx, user.ID, ImportRequest{RawText: b.String(), Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)
		if result.Skipped != 30 || len(result.Errors) != MaxImportErrors || result.Imported != 1 {
			t.Errorf("expected 30 skipped, %d errors, 1 imported; got %d, %d, %d",
				MaxImportErrors, result.Skipped, len(result.Errors), result.Imported)
		}
	})

	t.Run("all_rows_invalid", func(t *testing.T) {
		observer := newRecordingObserver()
		svc, teardown := newTestImportService(t, observer)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)

		result, err := svc.Import(ctx, user.ID, ImportRequest{RawText: "date,description,amount\nx,y,z\n", Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertNoError(t, err)
		if result.Imported != 0 || result.Skipped != 1 {
			t.Errorf("expected 0/1, got %d/%d", result.Imported, result.Skipped)
		}
		if observer.count(user.ID) != 0 {
			t.Error("expected no notification when nothing was imported")
		}
	})

	t.Run("preconditions", func(t *testing.T) {
		svc, teardown := newTestImportService(t, nil)
		defer teardown()
		user := testutil.CreateTestUser(t, svc.db)
		other := testutil.CreateTestUser(t, svc.db)
		account := testutil.CreateTestAccount(t, svc.db, user.ID)
		foreign := testutil.CreateTestAccount(t, svc.db, other.ID)
		valid := "date,description,amount\n2024-01-05,Coffee,-3.50\n"

		_, err := svc.Import(ctx, user.ID, ImportRequest{RawText: "  \n", Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertAppError(t, err, "EMPTY_IMPORT")

		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: "date,description,amount\n", Mapping: basicMapping, AccountID: account.ID})
		testutil.AssertAppError(t, err, "EMPTY_IMPORT")

		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: valid, Mapping: importer.ColumnMapping{Date: 0, Description: 1, Amount: 5}, AccountID: account.ID})
		testutil.AssertAppError(t, err, "INVALID_COLUMN_MAPPING")

		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: valid, AccountID: account.ID})
		testutil.AssertAppError(t, err, "INVALID_COLUMN_MAPPING")

		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: valid, Mapping: basicMapping, AccountID: foreign.ID})
		testutil.AssertAppError(t, err, "ACCOUNT_NOT_FOUND")

		_, err = svc.Import(ctx, user.ID, ImportRequest{RawText: valid, Mapping: basicMapping, AccountID: account.ID, TypeMode: "sideways"})
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		var count int64
		svc.db.Model(&models.Transaction{}).Count(&count)
		if count != 0 {
			t.Errorf("expected no rows written by rejected imports, got %d", count)
		}
	})
}

func TestImportPreview(t *testing.T) {
	ctx := context.Background()
	svc, teardown := newTestImportService(t, nil)
	defer teardown()

	var b strings.Builder
	b.WriteString("Posting Date|Payee|Amount\n")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, "2024-03-%02d|Shop %d|-%d.00\n", i+1, i, i+1)
	}

	preview, err := svc.Preview(ctx, "user", b.String())
	testutil.AssertNoError(t, err)

	if preview.Delimiter != "|" {
		t.Errorf("expected pipe delimiter, got %q", preview.Delimiter)
	}
	if preview.TotalRows != 15 || len(preview.Rows) != previewRows {
		t.Errorf("expected 15 total and %d shown, got %d and %d", previewRows, preview.TotalRows, len(preview.Rows))
	}
	if preview.SuggestedMapping == nil {
		t.Fatal("expected a suggested mapping")
	}
	if m := preview.SuggestedMapping; m.Date != 0 || m.Description != 1 || m.Amount != 2 {
		t.Errorf("unexpected mapping %+v", *m)
	}

	_, err = svc.Preview(ctx, "user", "")
	testutil.AssertAppError(t, err, "EMPTY_IMPORT")
}
