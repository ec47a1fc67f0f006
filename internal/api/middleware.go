package api

import (
	"time"

	"story-workers/internal/common/auth"
	apperrors "story-workers/internal/common/errors"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// RequireUser resolves the caller through authenticator and stores the user
// id on the context. Unauthenticated requests stop with 401.
func RequireUser(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authenticator.Authenticate(c.Request)
		if err != nil {
			stdErr := apperrors.Normalize(err)
			c.AbortWithStatusJSON(apperrors.HTTPStatus(stdErr.Code), gin.H{"error": stdErr.Message})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// RequestLogger logs one line per request and records it in the request
// meters.
func RequestLogger(log logger.Logger, obs *observability.Observability) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   status,
			"duration": elapsed.Milliseconds(),
		}
		if userID := c.GetString(userIDKey); userID != "" {
			fields["userId"] = userID
		}

		if status >= 500 {
			log.Error("request failed", fields)
		} else {
			log.Info("request handled", fields)
		}
		obs.RecordRequest(c.Request.Context(), c.FullPath(), statusClass(status), elapsed)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
