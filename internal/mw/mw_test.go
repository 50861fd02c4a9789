package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"parkpeek-guard/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCache(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	hits := 0
	r := gin.New()
	r.GET("/api/reports", Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	})

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
		return w
	}

	first := get()
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := get()
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"hits":1}`, second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, hits)

	InvalidateResponses(store, "/api/reports")
	third := get()
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"hits":2}`, third.Body.String())
}

func TestCache_NoCacheRefreshes(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	hits := 0
	r := gin.New()
	r.GET("/api/reports", Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("Cache-Control", "no-cache")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"hits":2}`, w.Body.String())

	// The forced refresh replaced the stored copy.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"hits":2}`, w.Body.String())
}

func TestCache_SkipsErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	r := gin.New()
	r.GET("/x", Cache(store, time.Minute), func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, 0, store.ItemCount())
}

func TestRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.GetLimiter("a")
	now = now.Add(time.Hour)
	limiter.GetLimiter("b")

	assert.Equal(t, 1, limiter.Cleanup(time.Minute))
	assert.Equal(t, 1, limiter.Len())
}

type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "guard-1"}}, nil
}

func TestRequireGuard(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireGuard(stubVerifier{}), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(GuardIDKey))
	})

	testCases := []struct {
		header   string
		expected int
	}{
		{header: "", expected: http.StatusUnauthorized},
		{header: "Basic good", expected: http.StatusUnauthorized},
		{header: "Bearer bad", expected: http.StatusUnauthorized},
		{header: "Bearer ", expected: http.StatusUnauthorized},
		{header: "bearer good", expected: http.StatusOK},
	}
	for _, tc := range testCases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		require.Equal(t, tc.expected, w.Code, "header %q", tc.header)
		if tc.expected == http.StatusOK {
			assert.Equal(t, "guard-1", w.Body.String())
		}
	}
}
