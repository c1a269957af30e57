package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func jwtRouter() *gin.Engine {
	r := gin.New()
	r.Use(NewRequestIDMiddleware(), NewJWTMiddleware(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": Caller(c).ID})
	})
	return r
}

func TestJWTMiddleware(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		token  string
		cookie bool
		want   int
		body   string
	}{
		{"numeric id", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": 7, "exp": exp}), false, http.StatusOK, `{"id":7}`},
		{"string id in cookie", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": "12", "exp": exp}), true, http.StatusOK, `{"id":12}`},
		{"missing", "", false, http.StatusUnauthorized, ""},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("nope"), jwt.MapClaims{"user_id": 7, "exp": exp}), false, http.StatusUnauthorized, ""},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(-time.Minute).Unix()}), false, http.StatusUnauthorized, ""},
		{"no expiry", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": 7}), false, http.StatusUnauthorized, ""},
		{"other alg", sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{"user_id": 7, "exp": exp}), false, http.StatusUnauthorized, ""},
		{"bad subject", sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": "abc", "exp": exp}), false, http.StatusUnauthorized, ""},
	}

	r := jwtRouter()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.token != "" {
				if tt.cookie {
					req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.token})
				} else {
					req.Header.Set("Authorization", "Bearer "+tt.token)
				}
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequestIDIsAlwaysSet(t *testing.T) {
	r := gin.New()
	r.Use(NewRequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not\r\na uuid")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotContains(t, w.Body.String(), "uuid")
}

func TestBodySizeLimiter(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimiter(8), func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if IsBodyTooLarge(err) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too large body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Unknown length is only caught while reading
	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("way too large body")))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiterMiddleware(t.Context(), RateLimiterConfig{RequestsPerSecond: 1, Burst: 2}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterCleanupStopsWithContext(t *testing.T) {
	v := &visitors{byIP: make(map[string]*visitor), rps: 1, burst: 1}
	v.get("10.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		v.cleanup(ctx, time.Nanosecond, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.byIP) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup kept running after cancel")
	}
}
