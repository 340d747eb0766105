package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/query"
)

const StreamStatusTrailer = "X-Stream-Status"

type explainReq struct {
	Query   string           `json:"query"`
	SQL     string           `json:"sql"`
	Results []map[string]any `json:"results"`
}

// ExplainStream writes the explanation as raw chunked text. A failure after
// the response started is reported in-band and in the X-Stream-Status trailer.
func (h *Handler) ExplainStream(c *gin.Context) {
	uid, _ := userIDFromContext(c)

	var req explainReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.SQL) == "" {
		invalid(c, "query and sql are required")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		invalid(c, "streaming not supported")
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Header("Trailer", StreamStatusTrailer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	ctx := c.Request.Context()
	st := h.Explainer.Explain(ctx, query.ExplainRequest{
		Question: req.Query,
		SQL:      req.SQL,
		Rows:     req.Results,
		UserID:   uid,
	}, func(chunk string) error {
		if _, err := io.WriteString(c.Writer, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	status := "completed"
	switch {
	case st.Failed:
		status = "failed"
	case st.Cancelled:
		status = "cancelled"
	}
	c.Writer.Header().Set(StreamStatusTrailer, status)

	h.Logger.InfoContext(ctx, "explanation stream finished",
		slog.Uint64("user_id", uid),
		slog.String("status", status),
		slog.Int("chunks", st.Chunks),
		slog.Int("chars", len(st.Text)),
	)
}
