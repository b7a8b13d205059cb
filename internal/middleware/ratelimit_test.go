package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware_UnlimitedGeneral(t *testing.T) {
	// generalRPM <= 0 disables the general limit; authRPM stays at 1.
	mw := NewRateLimitMiddleware(0, 1)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := mw.Handler(nextHandler)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/v1/trash/accounts", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Request %d failed with status %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_LimitedAuth(t *testing.T) {
	mw := NewRateLimitMiddleware(0, 1)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := mw.Handler(nextHandler)

	// First request to the auth endpoint consumes the single burst token.
	req1 := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	// The immediate second request finds the bucket empty.
	req2 := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestRateLimitMiddleware_HealthAndMetricsBypass(t *testing.T) {
	mw := NewRateLimitMiddleware(1, 1)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := mw.Handler(nextHandler)

	for i := 0; i < 5; i++ {
		for _, path := range []string{"/health", "/metrics"} {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_Configuration(t *testing.T) {
	mw := NewRateLimitMiddleware(-1, 0)
	assert.Equal(t, -1, mw.generalRPM)
	assert.Equal(t, 10, mw.authRPM) // Default fallback for auth
}
