package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			h.Logger.WarnContext(c.Request.Context(), "readiness check failed", "err", err)
			common.Fail(c, http.StatusServiceUnavailable, apperr.Internal, "not ready")
			return
		}
	}
	common.OK(c, gin.H{"status": "ok"})
}
