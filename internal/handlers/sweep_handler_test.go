package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/middleware"
	"ledgercore/internal/services"
)

type mockSweepService struct {
	runFn func(today time.Time) (*services.SweepReport, error)
}

var _ services.SweepServicer = (*mockSweepService)(nil)

func (m *mockSweepService) Run(_ context.Context, today time.Time) (*services.SweepReport, error) {
	if m.runFn != nil {
		return m.runFn(today)
	}
	return &services.SweepReport{}, nil
}

func setupSweepRouter(handler *SweepHandler, apiKey string) *gin.Engine {
	r := gin.New()
	r.POST("/internal/sweep", middleware.APIKeyMiddleware(apiKey), handler.RunSweep)
	return r
}

func sweepRequest(r *gin.Engine, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSweepHandler_RunSweep(t *testing.T) {
	fixedNow := time.Date(2024, 5, 20, 23, 10, 0, 0, time.UTC)

	t.Run("runs for today", func(t *testing.T) {
		var gotToday time.Time
		sweepSvc := &mockSweepService{
			runFn: func(today time.Time) (*services.SweepReport, error) {
				gotToday = today
				return &services.SweepReport{Users: 3, Generated: 2, Alerts: 1}, nil
			},
		}
		handler := NewSweepHandler(sweepSvc)
		handler.now = func() time.Time { return fixedNow }
		r := setupSweepRouter(handler, "secret")

		rec := sweepRequest(r, "/internal/sweep", "secret")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !gotToday.Equal(time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("expected 2024-05-20, got %s", gotToday)
		}
		result := parseJSON(t, rec)
		report := result["report"].(map[string]interface{})
		if report["users"].(float64) != 3 || report["generated"].(float64) != 2 {
			t.Errorf("unexpected report %v", report)
		}
		if result["date"] != "2024-05-20" {
			t.Errorf("expected date 2024-05-20, got %v", result["date"])
		}
	})

	t.Run("accepts explicit date", func(t *testing.T) {
		var gotToday time.Time
		sweepSvc := &mockSweepService{
			runFn: func(today time.Time) (*services.SweepReport, error) {
				gotToday = today
				return &services.SweepReport{}, nil
			},
		}
		r := setupSweepRouter(NewSweepHandler(sweepSvc), "secret")

		rec := sweepRequest(r, "/internal/sweep?date=2024-02-29", "secret")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !gotToday.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("expected 2024-02-29, got %s", gotToday)
		}
	})

	t.Run("returns 400 on bad date", func(t *testing.T) {
		r := setupSweepRouter(NewSweepHandler(&mockSweepService{}), "secret")

		rec := sweepRequest(r, "/internal/sweep?date=yesterday", "secret")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		called := false
		sweepSvc := &mockSweepService{
			runFn: func(_ time.Time) (*services.SweepReport, error) {
				called = true
				return &services.SweepReport{}, nil
			},
		}
		r := setupSweepRouter(NewSweepHandler(sweepSvc), "secret")

		rec := sweepRequest(r, "/internal/sweep", "wrong")

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if called {
			t.Error("sweep should not run")
		}
	})

	t.Run("disabled without configured key", func(t *testing.T) {
		r := setupSweepRouter(NewSweepHandler(&mockSweepService{}), "")

		rec := sweepRequest(r, "/internal/sweep", "anything")

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("returns 500 when cancelled", func(t *testing.T) {
		sweepSvc := &mockSweepService{
			runFn: func(_ time.Time) (*services.SweepReport, error) {
				return nil, errors.New("context canceled")
			},
		}
		r := setupSweepRouter(NewSweepHandler(sweepSvc), "secret")

		rec := sweepRequest(r, "/internal/sweep", "secret")

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
	})
}
