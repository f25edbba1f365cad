package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(Logger(zap.New(core)))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	for _, path := range []string{"/ok", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Errorf("expected info for 200, got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("expected warn for 502, got %s", entries[1].Level)
	}
	if id, ok := entries[0].ContextMap()["request_id"].(string); !ok || id == "" {
		t.Errorf("expected request_id field, got %v", entries[0].ContextMap()["request_id"])
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Post("/sources/{id}/enable", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/sources/{id}/enable", "200"))
	for _, id := range []string{"primary", "backup"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sources/"+id+"/enable", nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/sources/{id}/enable", "200"))

	if after-before != 2 {
		t.Errorf("expected 2 requests under the route pattern, got %v", after-before)
	}
}

func TestNormalizePath_Unmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := normalizePath(req); got != "unmatched" {
		t.Errorf("expected unmatched, got %s", got)
	}
}

func TestRateLimiter(t *testing.T) {
	handler := RateLimiter(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK {
		t.Errorf("expected first request to pass, got %d", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected second request to be limited, got %d", codes[1])
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rec.Code)
		}
	}
}
