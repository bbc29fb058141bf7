package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
)

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/app", func(c *gin.Context) { _ = c.Error(apperrors.ErrBudgetNotFound) })
	r.GET("/wrapped", func(c *gin.Context) {
		_ = c.Error(apperrors.Wrap(apperrors.ErrInternalServer, errors.New("db down")))
	})
	r.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("boom")) })
	r.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusTeapot, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})

	tests := []struct {
		path       string
		wantStatus int
		wantCode   string
	}{
		{"/app", http.StatusNotFound, "BUDGET_NOT_FOUND"},
		{"/wrapped", http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"/plain", http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"/written", http.StatusTeapot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode != "" && errorCode(t, rec) != tt.wantCode {
				t.Errorf("code = %q, want %q", errorCode(t, rec), tt.wantCode)
			}
		})
	}
}

func TestRequestLogging(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogging())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	t.Run("generates_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
		id := rec.Header().Get(requestIDHeader)
		if id == "" || rec.Body.String() != id {
			t.Errorf("expected generated request ID in header and context, got %q / %q", id, rec.Body.String())
		}
	})

	t.Run("reuses_incoming_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
		req.Header.Set(requestIDHeader, "upstream-id")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Header().Get(requestIDHeader) != "upstream-id" {
			t.Errorf("expected upstream ID to be kept, got %q", rec.Header().Get(requestIDHeader))
		}
	})
}
