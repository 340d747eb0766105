package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
)

// OK writes a 200 response: {"success": true, ...fields}.
func OK(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail writes {"success": false, "error": {category, message, retryable}}.
func Fail(c *gin.Context, httpStatus int, cat apperr.Category, msg string) {
	c.JSON(httpStatus, gin.H{
		"success": false,
		"error": gin.H{
			"category":  cat,
			"message":   msg,
			"retryable": cat.Retryable(),
		},
	})
}

// FailErr maps err to its category status and caller-safe message.
func FailErr(c *gin.Context, err error) {
	cat := apperr.CategoryOf(err)
	msg := apperr.PublicMessage(err)
	var e *apperr.Error
	if errors.As(err, &e) && e.Category == apperr.ModelUnavailable && isTimeout(e.Err) {
		Fail(c, http.StatusGatewayTimeout, cat, msg)
		return
	}
	Fail(c, cat.HTTPStatus(), cat, msg)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
