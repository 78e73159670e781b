package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	idempotencyLockTTL = 30 * time.Second
	idempotencyTTL     = 24 * time.Hour
	processingMarker   = "PROCESSING"
)

// IdempotencyStore is the subset of *redis.Client the middleware needs.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a mutating request repeats
// an Idempotency-Key the same user already sent. Keys are scoped per user.
// Requests without the header, and all requests when Redis fails, pass
// straight through.
func Idempotency(rdb IdempotencyStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to state-changing methods
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		idemKey := "idempotency:" + c.GetString(UserIDKey) + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		ctx := c.Request.Context()

		val, err := rdb.Get(ctx, idemKey).Result()
		switch {
		case err == nil && val == processingMarker:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is still in progress"})
			return
		case err == nil:
			var prev storedResponse
			if jsonErr := json.Unmarshal([]byte(val), &prev); jsonErr == nil {
				c.Header("X-Idempotency-Hit", "true")
				c.Data(prev.Status, prev.ContentType, prev.Body)
				c.Abort()
				return
			}
			log.Warn("discarding unreadable idempotency record", "key", idemKey)
		case !errors.Is(err, redis.Nil):
			log.Warn("idempotency lookup failed", "error", err)
			c.Next()
			return
		}

		acquired, err := rdb.SetNX(ctx, idemKey, processingMarker, idempotencyLockTTL).Result()
		if err != nil {
			log.Warn("idempotency lock failed", "error", err)
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is still in progress"})
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// Server errors are not remembered so the client can retry.
		bg := context.WithoutCancel(ctx)
		if rec.Status() >= http.StatusInternalServerError {
			rdb.Del(bg, idemKey)
			return
		}
		payload, err := json.Marshal(storedResponse{
			Status:      rec.Status(),
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err != nil {
			rdb.Del(bg, idemKey)
			return
		}
		if err := rdb.Set(bg, idemKey, payload, idempotencyTTL).Err(); err != nil {
			log.Warn("idempotency record not saved", "key", idemKey, "error", err)
		}
	}
}
