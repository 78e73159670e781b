package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is anything whose liveness /healthz reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Health reports 200 when every dependency answers and 503 otherwise.
func Health(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		code := 200
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				status[name] = err.Error()
				code = 503
				continue
			}
			status[name] = "ok"
		}
		overall := "ok"
		if code != 200 {
			overall = "degraded"
		}
		c.JSON(code, gin.H{"status": overall, "checks": status})
	}
}
