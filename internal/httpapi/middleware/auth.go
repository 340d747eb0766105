package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/auth"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
)

const UserIDKey = "user_id"

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, apperr.Unauthorized, "missing bearer token")
			c.Abort()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))

		claims, err := auth.ParseJWT(secret, token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, apperr.Unauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
