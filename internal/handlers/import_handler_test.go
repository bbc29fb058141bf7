package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/importer"
	"ledgercore/internal/services"
)

type mockImportService struct {
	previewFn func(userID, rawText string) (*services.ImportPreview, error)
	importFn  func(userID string, req services.ImportRequest) (*services.ImportResult, error)
}

var _ services.ImportServicer = (*mockImportService)(nil)

func (m *mockImportService) Preview(_ context.Context, userID, rawText string) (*services.ImportPreview, error) {
	if m.previewFn != nil {
		return m.previewFn(userID, rawText)
	}
	return &services.ImportPreview{}, nil
}

func (m *mockImportService) Import(_ context.Context, userID string, req services.ImportRequest) (*services.ImportResult, error) {
	if m.importFn != nil {
		return m.importFn(userID, req)
	}
	return &services.ImportResult{Errors: []string{}}, nil
}

func setupImportRouter(handler *ImportHandler) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUserID(testUserID))
	auth.POST("/imports/csv/preview", handler.PreviewImport)
	auth.POST("/imports/csv", handler.ImportCSV)
	return r
}

func TestImportHandler_PreviewImport(t *testing.T) {
	t.Run("returns preview", func(t *testing.T) {
		importSvc := &mockImportService{
			previewFn: func(_, rawText string) (*services.ImportPreview, error) {
				if rawText != "Date;Amount\n01/02/2024;5" {
					t.Errorf("unexpected raw text %q", rawText)
				}
				return &services.ImportPreview{Delimiter: ";", Header: []string{"Date", "Amount"}, TotalRows: 1}, nil
			},
		}
		r := setupImportRouter(NewImportHandler(importSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv/preview", `{"raw_text":"Date;Amount\n01/02/2024;5"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		preview := parseJSON(t, rec)["preview"].(map[string]interface{})
		if preview["delimiter"] != ";" {
			t.Errorf("expected ';', got %v", preview["delimiter"])
		}
	})

	t.Run("returns 400 on empty file", func(t *testing.T) {
		importSvc := &mockImportService{
			previewFn: func(_, _ string) (*services.ImportPreview, error) {
				return nil, apperrors.ErrEmptyImport
			},
		}
		r := setupImportRouter(NewImportHandler(importSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv/preview", `{"raw_text":"Date,Amount"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "EMPTY_IMPORT")
	})
}

func TestImportHandler_ImportCSV(t *testing.T) {
	t.Run("passes mapping and audits", func(t *testing.T) {
		var captured services.ImportRequest
		importSvc := &mockImportService{
			importFn: func(_ string, req services.ImportRequest) (*services.ImportResult, error) {
				captured = req
				return &services.ImportResult{Imported: 2, Skipped: 1, Errors: []string{"line 3: invalid amount"}}, nil
			},
		}
		audit := &mockAuditService{}
		r := setupImportRouter(NewImportHandler(importSvc, audit))

		rec := doRequest(r, "POST", "/imports/csv",
			`{"raw_text":"x","account_id":"`+testAccountID+`","mapping":{"date":0,"description":2,"amount":1,"type":3},"type_mode":"expense"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if captured.AccountID != testAccountID {
			t.Errorf("expected account %s, got %s", testAccountID, captured.AccountID)
		}
		if captured.Mapping.Description != 2 || captured.Mapping.Amount != 1 {
			t.Errorf("unexpected mapping %+v", captured.Mapping)
		}
		if captured.Mapping.Type == nil || *captured.Mapping.Type != 3 {
			t.Errorf("expected type column 3, got %v", captured.Mapping.Type)
		}
		if captured.TypeMode != importer.TypeModeExpense {
			t.Errorf("expected expense mode, got %s", captured.TypeMode)
		}
		result := parseJSON(t, rec)["result"].(map[string]interface{})
		if result["imported"].(float64) != 2 || result["skipped"].(float64) != 1 {
			t.Errorf("unexpected result %v", result)
		}
		if len(audit.entries) != 1 || audit.entries[0].action != services.AuditActionImport {
			t.Errorf("expected import audit, got %+v", audit.entries)
		}
	})

	t.Run("does not audit when nothing imported", func(t *testing.T) {
		audit := &mockAuditService{}
		r := setupImportRouter(NewImportHandler(&mockImportService{}, audit))

		rec := doRequest(r, "POST", "/imports/csv",
			`{"raw_text":"x","account_id":"`+testAccountID+`","mapping":{"date":0,"description":1,"amount":2}}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if len(audit.entries) != 0 {
			t.Errorf("expected no audit, got %+v", audit.entries)
		}
	})

	t.Run("returns 400 on unknown type mode", func(t *testing.T) {
		r := setupImportRouter(NewImportHandler(&mockImportService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv",
			`{"raw_text":"x","account_id":"`+testAccountID+`","mapping":{"date":0,"description":1,"amount":2},"type_mode":"both"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("returns 400 on missing account", func(t *testing.T) {
		r := setupImportRouter(NewImportHandler(&mockImportService{}, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv", `{"raw_text":"x","mapping":{"date":0,"description":1,"amount":2}}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("returns 400 on bad mapping", func(t *testing.T) {
		importSvc := &mockImportService{
			importFn: func(_ string, _ services.ImportRequest) (*services.ImportResult, error) {
				return nil, apperrors.WithMessage(apperrors.ErrInvalidColumnMapping, "amount column 9 out of range")
			},
		}
		r := setupImportRouter(NewImportHandler(importSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv",
			`{"raw_text":"x","account_id":"`+testAccountID+`","mapping":{"date":0,"description":1,"amount":9}}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INVALID_COLUMN_MAPPING")
	})

	t.Run("returns 404 on foreign account", func(t *testing.T) {
		importSvc := &mockImportService{
			importFn: func(_ string, _ services.ImportRequest) (*services.ImportResult, error) {
				return nil, apperrors.ErrAccountNotFound
			},
		}
		r := setupImportRouter(NewImportHandler(importSvc, &mockAuditService{}))

		rec := doRequest(r, "POST", "/imports/csv",
			`{"raw_text":"x","account_id":"`+testAccountID+`","mapping":{"date":0,"description":1,"amount":2}}`)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
