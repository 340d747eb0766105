// Package warehouse runs validated SQL against the business database.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"gorm.io/gorm"
)

type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	// Truncated is set when the row cap stopped the scan early.
	Truncated bool `json:"truncated"`
}

type ErrorKind string

const (
	KindSyntax  ErrorKind = "syntax"
	KindRuntime ErrorKind = "runtime"
	KindTimeout ErrorKind = "timeout"
)

type ExecError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecError) Error() string { return fmt.Sprintf("%s error: %v", e.Kind, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

// KindOf returns the execution error kind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

type Executor struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewExecutor(db *gorm.DB, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Executor{db: db, logger: logger}
}

// Execute runs query and returns at most rowCap rows (rowCap <= 0 means no cap).
// The connection is released before Execute returns.
func (e *Executor) Execute(ctx context.Context, query string, rowCap int) (*Result, error) {
	rows, err := e.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, e.fail(ctx, query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.fail(ctx, query, err)
	}
	types, _ := rows.ColumnTypes()

	res := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if rowCap > 0 && res.RowCount >= rowCap {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.fail(ctx, query, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i], typeName(types, i))
		}
		res.Rows = append(res.Rows, row)
		res.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, e.fail(ctx, query, err)
	}
	return res, nil
}

func (e *Executor) fail(ctx context.Context, query string, err error) error {
	kind := classify(err)
	observability.IncrementExecutionError(string(kind))
	e.logger.WarnContext(ctx, "sql execution failed",
		slog.String("kind", string(kind)),
		slog.String("sql", query),
		slog.Any("err", err),
	)
	return apperr.Wrap(apperr.ExecutionFailed, publicMessage(kind), &ExecError{Kind: kind, Err: err})
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1064, 1149:
			return KindSyntax
		case 3024:
			return KindTimeout
		default:
			return KindRuntime
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "syntax error") {
		return KindSyntax
	}
	return KindRuntime
}

func publicMessage(kind ErrorKind) string {
	switch kind {
	case KindSyntax:
		return "the generated query has a syntax error"
	case KindTimeout:
		return "the query took too long to run"
	default:
		return "the query could not be executed"
	}
}

func typeName(types []*sql.ColumnType, i int) string {
	if i < len(types) && types[i] != nil {
		return strings.ToUpper(types[i].DatabaseTypeName())
	}
	return ""
}

// normalize converts driver values into JSON-friendly ones.
func normalize(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		s := string(x)
		switch {
		case isIntType(dbType):
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		case isFloatType(dbType):
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func isIntType(t string) bool {
	switch strings.TrimPrefix(t, "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return true
	}
	return false
}

func isFloatType(t string) bool {
	switch t {
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		return true
	}
	return false
}
