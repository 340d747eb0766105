package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
)

type ExplainRequest struct {
	Question string
	SQL      string
	Rows     []map[string]any
	UserID   uint64
}

// Sink receives chunks in order. It must write and flush before returning.
type Sink func(chunk string) error

type StreamState struct {
	Text      string
	Chunks    int
	Completed bool
	Failed    bool
	Cancelled bool
	Err       error
}

type Explainer struct {
	streamer Streamer
	logger   *slog.Logger
}

func NewExplainer(streamer Streamer, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Explainer{streamer: streamer, logger: logger}
}

// StreamErrorMarker formats the in-band terminal marker written after a failed stream.
func StreamErrorMarker(err error) string {
	cat := apperr.CategoryOf(err)
	if cat == apperr.Internal {
		cat = apperr.StreamInterrupted
	}
	return fmt.Sprintf("\n\n[stream interrupted: %s] %s", cat, apperr.PublicMessage(err))
}

// Explain forwards each explanation chunk to sink as soon as it arrives.
// It stops pulling when ctx is done or sink fails, which closes the
// upstream request. Streams are never recorded in history.
func (e *Explainer) Explain(ctx context.Context, req ExplainRequest, sink Sink) StreamState {
	var (
		st StreamState
		sb strings.Builder
	)

	for chunk, err := range e.streamer.StreamExplanation(ctx, req.Question, req.SQL, req.Rows) {
		if ctx.Err() != nil {
			st.Cancelled = true
			st.Err = ctx.Err()
			break
		}
		if err != nil {
			st.Failed = true
			st.Err = err
			break
		}
		if werr := sink(chunk); werr != nil {
			st.Cancelled = true
			st.Err = werr
			break
		}
		sb.WriteString(chunk)
		st.Chunks++
	}
	if !st.Failed && !st.Cancelled {
		if ctx.Err() != nil {
			st.Cancelled = true
			st.Err = ctx.Err()
		} else {
			st.Completed = true
		}
	}
	st.Text = sb.String()

	observability.AddStreamChunks(st.Chunks)
	switch {
	case st.Failed:
		outcome := "failed"
		if errors.Is(st.Err, apperr.ErrStreamInterrupted) {
			outcome = "interrupted"
		}
		observability.ObserveStream(outcome)
		e.logger.WarnContext(ctx, "explanation stream failed",
			slog.String("category", string(apperr.CategoryOf(st.Err))),
			slog.Int("chunks", st.Chunks),
			slog.Any("err", st.Err),
		)
		_ = sink(StreamErrorMarker(st.Err))
	case st.Cancelled:
		observability.ObserveStream("cancelled")
		e.logger.InfoContext(ctx, "explanation stream cancelled", slog.Int("chunks", st.Chunks))
	default:
		observability.ObserveStream("completed")
	}
	return st
}
