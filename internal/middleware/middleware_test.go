package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGate(t *testing.T) (*auth.Gate, int64, string) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	creds, err := auth.NewCredentials("mw-secret", time.Hour, 4)
	require.NoError(t, err)

	id, err := store.CreateUser(ctx, user.User{Email: "a@b.co", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	token, err := creds.MintToken(id)
	require.NoError(t, err)
	require.NoError(t, store.SetUserToken(ctx, id, token))

	return auth.NewGate(auth.NewTokenResolver(store, creds)), id, token
}

func TestAuthMiddlewareResolvesCaller(t *testing.T) {
	gate, id, token := newGate(t)
	mw := NewAuthMiddleware(gate, logging.NewDiscard())

	var gotID int64
	var gotErr error
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotErr = RequireCaller(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		id     int64
		check  func(error) bool
	}{
		{"valid token", token, id, func(err error) bool { return err == nil }},
		{"no header", "", 0, apperrors.IsUnauthenticated},
		{"garbage token", "not-a-token", 0, apperrors.IsUnauthenticated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(CredentialHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.id, gotID)
			assert.True(t, tc.check(gotErr), "unexpected error %v", gotErr)
		})
	}
}

func TestCallerIDAnonymous(t *testing.T) {
	assert.Equal(t, int64(0), CallerID(context.Background()))
	_, err := RequireCaller(context.Background())
	assert.True(t, apperrors.IsUnauthenticated(err))
}

func TestCORS(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.example"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/petitions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), CredentialHeader)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/petitions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitRejectsWith429(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	h := RateLimit(limiter, 1, time.Second, logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterCleanupAndLifecycle(t *testing.T) {
	limiter := NewRateLimiter(5, 5)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	ok, err := limiter.Allow(context.Background(), "ip:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, limiter.size())

	now = now.Add(time.Hour)
	limiter.Cleanup()
	assert.Equal(t, 0, limiter.size())

	require.NoError(t, limiter.Start(context.Background()))
	require.NoError(t, limiter.Stop(context.Background()))
	require.NoError(t, limiter.Stop(context.Background()))
}

func TestRedisLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()
	require.NoError(t, limiter.Start(ctx))
	defer limiter.Stop(ctx)

	for i, want := range []bool{true, true, false} {
		ok, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i+1)
	}
	ok, err := limiter.Allow(ctx, "ip:2")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, ok, "window should reset")
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	limiter := NewRedisLimiter(client, 1, time.Minute)
	mr.Close()
	defer client.Close()

	h := RateLimit(limiter, 1, time.Minute, logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAndTracing(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware())
	router.HandleFunc("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, logging.GetTraceID(r.Context()))
		w.WriteHeader(http.StatusCreated)
	})
	h := NewTracingMiddleware(logging.NewDiscard()).Handler(router)

	req := httptest.NewRequest(http.MethodGet, "/things/3", nil)
	req.Header.Set("X-Trace-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Trace-ID"))
}
