package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
)

// Recovery turns a handler panic into a JSON 500 instead of a dropped connection.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.Request.Context(), "panic recovered",
					slog.Any("panic", r),
					slog.String("path", c.Request.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.Fail(c, http.StatusInternalServerError, apperr.Internal, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
