package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pretendo-dev/pretendo/core/config"
)

func TestLatencyMiddlewareEqualBounds(t *testing.T) {
	mw := latencyMiddleware(config.LatencyOptions{Enabled: true, Min: 20, Max: 20})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("min == max must delay by min, waited %v", elapsed)
	}
}

func TestLatencyMiddlewareFixedWins(t *testing.T) {
	mw := latencyMiddleware(config.LatencyOptions{Enabled: true, Fixed: 10, Min: 200, Max: 300})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	elapsed := time.Since(start)
	if elapsed < 10*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Errorf("fixed delay must win over the range, waited %v", elapsed)
	}
}
