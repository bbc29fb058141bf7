package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupAPIKeyRouter(apiKey string) *gin.Engine {
	r := gin.New()
	r.Use(APIKeyMiddleware(apiKey))
	r.POST("/internal/sweep", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func doAPIKeyRequest(r *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", http.NoBody)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response body: %v", err)
	}
	return result
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseBody(t, rec)["error"].(map[string]interface{})
	if !ok {
		t.Fatal("expected error object in response")
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		configuredKey string
		requestKey    string
		wantStatus    int
		wantErrorCode string
	}{
		{name: "valid_api_key", configuredKey: "sweep-key", requestKey: "sweep-key", wantStatus: http.StatusOK},
		{name: "invalid_api_key", configuredKey: "sweep-key", requestKey: "wrong", wantStatus: http.StatusUnauthorized, wantErrorCode: "INVALID_API_KEY"},
		{name: "missing_api_key", configuredKey: "sweep-key", wantStatus: http.StatusUnauthorized, wantErrorCode: "INVALID_API_KEY"},
		{name: "partial_match_rejected", configuredKey: "sweep-key", requestKey: "sweep", wantStatus: http.StatusUnauthorized, wantErrorCode: "INVALID_API_KEY"},
		{name: "not_configured", configuredKey: "", requestKey: "any", wantStatus: http.StatusServiceUnavailable, wantErrorCode: "API_KEY_NOT_CONFIGURED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doAPIKeyRequest(setupAPIKeyRouter(tt.configuredKey), tt.requestKey)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantErrorCode != "" {
				if code := errorCode(t, rec); code != tt.wantErrorCode {
					t.Errorf("error code = %q, want %q", code, tt.wantErrorCode)
				}
			}
			if tt.wantStatus == http.StatusOK {
				if status, _ := parseBody(t, rec)["status"].(string); status != "ok" {
					t.Errorf("expected handler to be reached, got status = %q", status)
				}
			}
		})
	}
}
