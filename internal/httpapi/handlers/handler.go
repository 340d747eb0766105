package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"github.com/suPer8Hu/nl2sql-platform/internal/query"
)

type Pipeline interface {
	RunNL2SQL(ctx context.Context, req query.Request) (*query.Response, error)
	RunNL2SQLQuery(ctx context.Context, req query.Request) (*query.Response, error)
	RunDirectSQL(ctx context.Context, req query.DirectRequest) (*query.Response, error)
	ClearCache(ctx context.Context) (int, error)
}

type Explainer interface {
	Explain(ctx context.Context, req query.ExplainRequest, sink query.Sink) query.StreamState
}

type HistoryReader interface {
	List(ctx context.Context, userID uint64, p history.ListParams) ([]history.Record, error)
	Get(ctx context.Context, userID uint64, id string) (*history.Record, error)
}

type Handler struct {
	Pipeline  Pipeline
	Explainer Explainer
	History   HistoryReader
	// Ready backs /healthz; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

func NewHandler(p Pipeline, e Explainer, h HistoryReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{Pipeline: p, Explainer: e, History: h, Logger: logger}
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	return middleware.UserID(c)
}
