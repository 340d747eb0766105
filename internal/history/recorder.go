package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/nl2sql-platform/internal/common"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
)

// Sink persists a fully built record.
type Sink interface {
	Save(ctx context.Context, rec *Record) error
}

// Entry describes the terminal outcome of one query attempt.
type Entry struct {
	UserID         uint64
	QueryType      QueryType
	QueryText      string
	SQL            string
	Status         Status
	ErrorCategory  string
	ErrorMessage   string
	Model          string
	ProcessingTime time.Duration
	RowCount       int
	ResponseText   string
	Meta           map[string]any
}

type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record builds and persists a record for e. Callers treat failures as
// non-fatal; Record logs them itself.
func (r *Recorder) Record(ctx context.Context, e Entry) (string, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", fmt.Errorf("history id: %w", err)
	}
	rec := &Record{
		ID:             id,
		UserID:         e.UserID,
		QueryType:      e.QueryType,
		QueryText:      e.QueryText,
		SQL:            e.SQL,
		Status:         e.Status,
		ErrorCategory:  e.ErrorCategory,
		ErrorMessage:   e.ErrorMessage,
		ModelUsed:      e.Model,
		ProcessingTime: e.ProcessingTime.Seconds(),
		RowCount:       e.RowCount,
		ResponseText:   e.ResponseText,
		MetaInfo:       e.Meta,
		CreatedAt:      r.now(),
	}

	// detached from request cancellation so an aborted client still leaves a record
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.sink.Save(sctx, rec); err != nil {
		observability.IncrementHistoryFailure()
		r.logger.ErrorContext(ctx, "history record failed",
			slog.String("id", id),
			slog.String("query_type", string(e.QueryType)),
			slog.String("status", string(e.Status)),
			slog.Any("err", err),
		)
		return id, err
	}
	return id, nil
}

// Publisher is the transport used by QueueSink.
type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// QueueSink hands records to a broker; cmd/worker inserts them.
type QueueSink struct {
	pub Publisher
}

func NewQueueSink(pub Publisher) *QueueSink {
	return &QueueSink{pub: pub}
}

func (s *QueueSink) Save(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, rec.ID, body)
}

// DecodeRecord parses a message body produced by QueueSink.
func DecodeRecord(body []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("history message without id")
	}
	return &rec, nil
}
