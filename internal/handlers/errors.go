package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
)

// respondError writes err as {"error", "kind"} with the matching status.
// Unexpected errors are logged and hidden behind fallback.
func respondError(c *gin.Context, log *slog.Logger, err error, fallback string) {
	code := apperrors.HTTPStatus(err)
	if code >= 500 {
		log.Error(fallback, "path", c.FullPath(), "user_id", c.GetString("userId"), "error", err)
		c.JSON(code, gin.H{"error": fallback, "kind": apperrors.Kind(err)})
		return
	}
	c.JSON(code, gin.H{"error": err.Error(), "kind": apperrors.Kind(err)})
}
