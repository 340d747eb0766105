package query

import (
	"context"
	"iter"

	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/nl2sql"
	"github.com/suPer8Hu/nl2sql-platform/internal/warehouse"
)

type Generator interface {
	GenerateSQL(ctx context.Context, question, schema string) (nl2sql.Generation, error)
	SuggestFollowups(ctx context.Context, question string, shape nl2sql.ResultShape) []string
	Model() string
}

type Streamer interface {
	StreamExplanation(ctx context.Context, question, sql string, rows []map[string]any) iter.Seq2[string, error]
}

type Executor interface {
	Execute(ctx context.Context, sql string, rowCap int) (*warehouse.Result, error)
}

type SchemaSource interface {
	Describe(ctx context.Context) string
}

type Recorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

type staticSchema string

func (s staticSchema) Describe(context.Context) string { return string(s) }

// StaticSchema serves a fixed schema description.
func StaticSchema(text string) SchemaSource { return staticSchema(text) }
