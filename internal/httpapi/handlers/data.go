package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/query"
)

type nl2sqlReq struct {
	Query              string `json:"query"`
	NeedVisualization  *bool  `json:"need_visualization"`
	IncludeSuggestions *bool  `json:"include_suggestions"`
	UseCache           bool   `json:"use_cache"`
}

// suggestions and visualization default on unless the caller opts out
func (r nl2sqlReq) suggestions() bool {
	return r.IncludeSuggestions == nil || *r.IncludeSuggestions
}

func (r nl2sqlReq) visualization() bool {
	return r.NeedVisualization == nil || *r.NeedVisualization
}

func invalid(c *gin.Context, msg string) {
	common.Fail(c, http.StatusBadRequest, apperr.InvalidRequest, msg)
}

func (h *Handler) NL2SQL(c *gin.Context) {
	uid, _ := userIDFromContext(c)

	var req nl2sqlReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid json")
		return
	}

	resp, err := h.Pipeline.RunNL2SQL(c.Request.Context(), query.Request{
		Question:           req.Query,
		UserID:             uid,
		IncludeSuggestions: req.suggestions(),
		UseCache:           req.UseCache,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"data": gin.H{
		"sql":         resp.SQL,
		"suggestions": resp.Suggestions,
	}})
}

func (h *Handler) NL2SQLQuery(c *gin.Context) {
	uid, _ := userIDFromContext(c)

	var req nl2sqlReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid json")
		return
	}

	resp, err := h.Pipeline.RunNL2SQLQuery(c.Request.Context(), query.Request{
		Question:           req.Query,
		UserID:             uid,
		NeedVisualization:  req.visualization(),
		IncludeSuggestions: req.suggestions(),
		UseCache:           req.UseCache,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}

	data := gin.H{
		"query":      resp.Query,
		"sql":        resp.SQL,
		"results":    resp.Results,
		"columns":    resp.Columns,
		"row_count":  resp.RowCount,
		"truncated":  resp.Truncated,
		"model":      resp.Model,
		"from_cache": resp.FromCache,
		"history_id": resp.HistoryID,
	}
	if resp.Visualization != nil {
		data["visualization"] = resp.Visualization
	}
	if resp.Suggestions != nil {
		data["suggestions"] = resp.Suggestions
	}
	common.OK(c, gin.H{"data": data, "total": resp.RowCount})
}

type directQueryReq struct {
	Query   string `json:"query"`
	MaxRows int    `json:"max_rows"`
}

func (h *Handler) DirectQuery(c *gin.Context) {
	uid, _ := userIDFromContext(c)

	var req directQueryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid json")
		return
	}
	resp, err := h.Pipeline.RunDirectSQL(c.Request.Context(), query.DirectRequest{
		SQL:     req.Query,
		UserID:  uid,
		MaxRows: req.MaxRows,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"data":      resp.Results,
		"columns":   resp.Columns,
		"sql":       resp.SQL,
		"count":     resp.RowCount,
		"truncated": resp.Truncated,
	})
}

func (h *Handler) ListHistory(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, apperr.Unauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	qt := history.QueryType(strings.TrimSpace(c.Query("query_type")))
	switch qt {
	case "", history.TypeNL2SQLQuery, history.TypeNL2SQLOnly, history.TypeDirect:
	default:
		invalid(c, "unknown query_type")
		return
	}

	recs, err := h.History.List(c.Request.Context(), uid, history.ListParams{Limit: limit, Offset: offset, QueryType: qt})
	if err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "list history failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, apperr.Internal, "failed to list history")
		return
	}

	items := make([]history.Item, 0, len(recs))
	for _, r := range recs {
		items = append(items, r.Item())
	}
	common.OK(c, gin.H{"history": items})
}

func (h *Handler) GetHistory(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, apperr.Unauthorized, "unauthorized")
		return
	}

	rec, err := h.History.Get(c.Request.Context(), uid, c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, apperr.InvalidRequest, "history record not found")
		return
	}
	if err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "get history failed", "user_id", uid, "err", err)
		common.Fail(c, http.StatusInternalServerError, apperr.Internal, "failed to load history")
		return
	}
	common.OK(c, gin.H{"history": rec})
}

func (h *Handler) ClearCache(c *gin.Context) {
	n, err := h.Pipeline.ClearCache(c.Request.Context())
	if err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "clear cache failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, apperr.Internal, "failed to clear cache")
		return
	}
	common.OK(c, gin.H{"message": "cache cleared", "count": n})
}
