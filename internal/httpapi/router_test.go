package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/auth"
	"github.com/suPer8Hu/nl2sql-platform/internal/config"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/nl2sql-platform/internal/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPipeline struct{ cleared int }

func (stubPipeline) RunNL2SQL(ctx context.Context, req query.Request) (*query.Response, error) {
	return &query.Response{SQL: "SELECT 1 LIMIT 100", Suggestions: []string{}}, nil
}

func (stubPipeline) RunNL2SQLQuery(ctx context.Context, req query.Request) (*query.Response, error) {
	return &query.Response{SQL: "SELECT 1 LIMIT 100"}, nil
}

func (stubPipeline) RunDirectSQL(ctx context.Context, req query.DirectRequest) (*query.Response, error) {
	return &query.Response{SQL: req.SQL}, nil
}

func (p stubPipeline) ClearCache(ctx context.Context) (int, error) { return p.cleared, nil }

func testConfig() config.Config {
	return config.Config{JWTSecret: "secret", RateLimitRequests: 2, RateLimitWindow: time.Minute}
}

func newTestRouter() *gin.Engine {
	return NewRouter(Deps{
		Cfg:     testConfig(),
		Handler: handlers.NewHandler(stubPipeline{cleared: 1}, nil, nil, nil),
	})
}

func TestRouter_Public(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("unexpected ping: %d %v", w.Code, w.Header())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("nl2sql_http_requests_total")) {
		t.Fatalf("metrics not exposed: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRouter_DataRequiresAuthAndRateLimits(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/data/cache", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	tok, _ := auth.SignJWT("secret", 3, time.Hour)
	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/data/cache", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if i == 0 {
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["count"] != float64(1) {
				t.Fatalf("unexpected body: %v", body)
			}
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}
}
