package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/identity"
	"github.com/chachabrian/unipool-backend/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthMiddleware(t *testing.T) {
	jwt := identity.NewJWT("secret")
	token, err := jwt.Issue(identity.Principal{UserID: "u1", Name: "Ann"}, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthMiddleware(jwt, logging.Discard()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString(UserIDKey), "name": c.GetString(UserNameKey)})
	})

	cases := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"bearer", "/me", "Bearer " + token, http.StatusOK},
		{"query", "/me?token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + token, http.StatusUnauthorized},
		{"forged", "/me", "Bearer " + token + "x", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.JSONEq(t, `{"id":"u1","name":"Ann"}`, w.Body.String())
			}
		})
	}
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = asString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = asString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(int64(n), nil)
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func idempotentRouter(rdb IdempotencyStore, calls *int, status int) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(UserIDKey, c.GetHeader("X-User"))
		c.Next()
	})
	r.POST("/bookings", Idempotency(rdb, logging.Discard()), func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	return r
}

func post(r http.Handler, user, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{}`))
	req.Header.Set("X-User", user)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyReplays(t *testing.T) {
	calls := 0
	r := idempotentRouter(newFakeRedis(), &calls, http.StatusCreated)

	first := post(r, "u1", "k1")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.JSONEq(t, `{"call":1}`, first.Body.String())

	again := post(r, "u1", "k1")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.JSONEq(t, `{"call":1}`, again.Body.String())
	assert.Equal(t, "true", again.Header().Get("X-Idempotency-Hit"))
	assert.Equal(t, 1, calls)

	other := post(r, "u2", "k1")
	assert.JSONEq(t, `{"call":2}`, other.Body.String(), "keys are per user")

	post(r, "u1", "")
	post(r, "u1", "")
	assert.Equal(t, 4, calls, "requests without a key are never deduplicated")
}

func TestIdempotencyInProgress(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["idempotency:u1:POST:/bookings:k1"] = processingMarker
	calls := 0
	r := idempotentRouter(rdb, &calls, http.StatusCreated)

	w := post(r, "u1", "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	rdb := newFakeRedis()
	calls := 0
	r := idempotentRouter(rdb, &calls, http.StatusInternalServerError)

	post(r, "u1", "k1")
	post(r, "u1", "k1")
	assert.Equal(t, 2, calls)
	assert.Empty(t, rdb.data)
}
