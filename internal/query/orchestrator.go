// Package query drives a question through generation, validation,
// execution and enrichment, and records every attempt exactly once.
package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/cache"
	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/nl2sql"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"github.com/suPer8Hu/nl2sql-platform/internal/sqlguard"
	"github.com/suPer8Hu/nl2sql-platform/internal/visualize"
	"github.com/suPer8Hu/nl2sql-platform/internal/warehouse"
)

type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageSQLGenerated Stage = "SQL_GENERATED"
	StageValidated    Stage = "VALIDATED"
	StageExecuted     Stage = "EXECUTED"
	StageVisualized   Stage = "VISUALIZED"
	StageSuggested    Stage = "SUGGESTED"
	StageRecorded     Stage = "RECORDED"

	StageGenerationFailed   Stage = "GENERATION_FAILED"
	StageValidationRejected Stage = "VALIDATION_REJECTED"
	StageExecutionFailed    Stage = "EXECUTION_FAILED"
)

type Request struct {
	Question           string
	UserID             uint64
	NeedVisualization  bool
	IncludeSuggestions bool
	UseCache           bool
}

type DirectRequest struct {
	SQL    string
	UserID uint64
	// MaxRows <= 0 uses the configured maximum.
	MaxRows int
}

type Response struct {
	Query         string
	SQL           string
	Results       []map[string]any
	Columns       []string
	RowCount      int
	Truncated     bool
	Visualization *visualize.Spec
	Suggestions   []string
	Model         string
	FromCache     bool
	FallbackUsed  bool
	HistoryID     string
	// Trace lists the stages the attempt passed through, in order.
	Trace []Stage
}

type Options struct {
	Policy sqlguard.Policy
	// MaxRows caps rows returned by any execution. 0 means no cap beyond Policy.AutoLimit.
	MaxRows int
	Cache   cache.Store
	Logger  *slog.Logger
}

type Orchestrator struct {
	gen      Generator
	exec     Executor
	schema   SchemaSource
	recorder Recorder
	cache    cache.Store
	policy   sqlguard.Policy
	maxRows  int
	logger   *slog.Logger
}

func NewOrchestrator(gen Generator, exec Executor, schema SchemaSource, recorder Recorder, opts Options) *Orchestrator {
	if schema == nil {
		schema = StaticSchema(nl2sql.DefaultSchema)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &Orchestrator{
		gen:      gen,
		exec:     exec,
		schema:   schema,
		recorder: recorder,
		cache:    opts.Cache,
		policy:   opts.Policy,
		maxRows:  opts.MaxRows,
		logger:   logger,
	}
}

// RunNL2SQLQuery runs the full pipeline: generate, validate, execute, then
// optionally visualize and suggest.
func (o *Orchestrator) RunNL2SQLQuery(ctx context.Context, req Request) (resp *Response, err error) {
	a := o.begin(history.TypeNL2SQLQuery, req.UserID, req.Question)
	defer func() { resp, err = a.finish(ctx, resp, err, history.StatusSuccess) }()

	if strings.TrimSpace(req.Question) == "" {
		return nil, apperr.New(apperr.InvalidRequest, "query is required")
	}

	gen, fromCache, err := o.generate(ctx, a, req)
	if err != nil {
		return nil, err
	}
	verdict, err := o.validate(a, gen.SQL, o.policy)
	if err != nil {
		return nil, err
	}

	res, usedSQL, fallback, err := o.execute(ctx, a, verdict.SQL, gen.FallbackSQL, rowCap(o.policy.AutoLimit, o.maxRows))
	if err != nil {
		return nil, err
	}
	// only SQL that executed is cached
	if req.UseCache && !fromCache {
		cached := gen
		cached.SQL = usedSQL
		if fallback {
			cached.FallbackSQL = ""
		}
		o.store(ctx, req.Question, cached)
	}

	resp = &Response{
		Query:        req.Question,
		SQL:          usedSQL,
		Results:      res.Rows,
		Columns:      res.Columns,
		RowCount:     res.RowCount,
		Truncated:    res.Truncated,
		Model:        gen.Model,
		FromCache:    fromCache,
		FallbackUsed: fallback,
	}

	if req.NeedVisualization {
		resp.Visualization = o.visualize(ctx, res)
		a.enter(StageVisualized)
	}
	if req.IncludeSuggestions {
		resp.Suggestions = gen.Suggestions
		if len(resp.Suggestions) == 0 {
			resp.Suggestions = o.gen.SuggestFollowups(ctx, req.Question,
				nl2sql.ResultShape{Columns: res.Columns, RowCount: res.RowCount})
		}
		a.enter(StageSuggested)
	}
	return resp, nil
}

// RunNL2SQL generates and validates SQL without executing it. A successful
// attempt is recorded as partial. It reads the cache but never fills it.
func (o *Orchestrator) RunNL2SQL(ctx context.Context, req Request) (resp *Response, err error) {
	a := o.begin(history.TypeNL2SQLOnly, req.UserID, req.Question)
	defer func() { resp, err = a.finish(ctx, resp, err, history.StatusPartial) }()

	if strings.TrimSpace(req.Question) == "" {
		return nil, apperr.New(apperr.InvalidRequest, "query is required")
	}

	gen, fromCache, err := o.generate(ctx, a, req)
	if err != nil {
		return nil, err
	}
	verdict, err := o.validate(a, gen.SQL, o.policy)
	if err != nil {
		return nil, err
	}

	resp = &Response{
		Query:       req.Question,
		SQL:         verdict.SQL,
		Model:       gen.Model,
		FromCache:   fromCache,
		Suggestions: gen.Suggestions,
	}
	if req.IncludeSuggestions && len(resp.Suggestions) == 0 {
		resp.Suggestions = o.gen.SuggestFollowups(ctx, req.Question, nl2sql.ResultShape{})
		a.enter(StageSuggested)
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	return resp, nil
}

// RunDirectSQL validates and executes caller-supplied SQL.
func (o *Orchestrator) RunDirectSQL(ctx context.Context, req DirectRequest) (resp *Response, err error) {
	a := o.begin(history.TypeDirect, req.UserID, req.SQL)
	defer func() { resp, err = a.finish(ctx, resp, err, history.StatusSuccess) }()

	maxRows := req.MaxRows
	if maxRows <= 0 || (o.maxRows > 0 && maxRows > o.maxRows) {
		maxRows = o.maxRows
	}
	policy := o.policy
	policy.AutoLimit = rowCap(maxRows, 0)

	// caller-supplied SQL enters the machine already "generated"
	a.sql = req.SQL
	a.enter(StageSQLGenerated)

	verdict, err := o.validate(a, req.SQL, policy)
	if err != nil {
		return nil, err
	}
	res, usedSQL, _, err := o.execute(ctx, a, verdict.SQL, "", rowCap(policy.AutoLimit, o.maxRows))
	if err != nil {
		return nil, err
	}
	return &Response{
		Query:     req.SQL,
		SQL:       usedSQL,
		Results:   res.Rows,
		Columns:   res.Columns,
		RowCount:  res.RowCount,
		Truncated: res.Truncated,
	}, nil
}

// ClearCache empties the generation cache and reports how many entries were
// removed. A schema source that caches its description is reloaded too.
func (o *Orchestrator) ClearCache(ctx context.Context) (int, error) {
	if inv, ok := o.schema.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	if o.cache == nil {
		return 0, nil
	}
	return o.cache.Clear(ctx)
}

func (o *Orchestrator) generate(ctx context.Context, a *attempt, req Request) (nl2sql.Generation, bool, error) {
	if req.UseCache && o.cache != nil {
		if e, ok := o.cache.Get(ctx, cache.Key(req.Question)); ok {
			a.model = e.Model
			a.sql = e.SQL
			a.meta["cache_hit"] = true
			a.enter(StageSQLGenerated)
			return nl2sql.Generation{SQL: e.SQL, FallbackSQL: e.FallbackSQL, Model: e.Model, Suggestions: e.Suggestions}, true, nil
		}
	}

	schema := o.schema.Describe(ctx)
	gen, err := o.gen.GenerateSQL(ctx, req.Question, schema)
	a.model = gen.Model
	if a.model == "" {
		a.model = o.gen.Model()
	}
	if err != nil {
		a.enter(StageGenerationFailed)
		return gen, false, err
	}
	a.sql = gen.SQL
	a.meta["model_latency_ms"] = gen.Latency.Milliseconds()
	a.enter(StageSQLGenerated)
	return gen, false, nil
}

func (o *Orchestrator) store(ctx context.Context, question string, gen nl2sql.Generation) {
	if o.cache == nil {
		return
	}
	o.cache.Set(ctx, cache.Key(question), cache.Entry{
		SQL:         gen.SQL,
		FallbackSQL: gen.FallbackSQL,
		Suggestions: gen.Suggestions,
		Model:       gen.Model,
	})
}

func (o *Orchestrator) validate(a *attempt, sql string, policy sqlguard.Policy) (sqlguard.Verdict, error) {
	v := sqlguard.Validate(sql, policy)
	if !v.Allowed {
		a.enter(StageValidationRejected)
		return v, apperr.New(apperr.ValidationRejected, "query rejected: "+v.Reason)
	}
	a.sql = v.SQL
	a.enter(StageValidated)
	return v, nil
}

// execute runs sql, retrying once with fallback when the primary fails and
// the fallback passes the same validation.
func (o *Orchestrator) execute(ctx context.Context, a *attempt, sql, fallback string, limit int) (*warehouse.Result, string, bool, error) {
	res, err := o.exec.Execute(ctx, sql, limit)
	if err == nil {
		a.rowCount = res.RowCount
		a.enter(StageExecuted)
		return res, sql, false, nil
	}
	primaryErr := err

	if fallback != "" && ctx.Err() == nil {
		if v := sqlguard.Validate(fallback, o.policy); v.Allowed {
			o.logger.InfoContext(ctx, "primary sql failed, trying fallback",
				slog.String("kind", string(warehouse.KindOf(primaryErr))),
			)
			if res, err := o.exec.Execute(ctx, v.SQL, limit); err == nil {
				a.sql = v.SQL
				a.rowCount = res.RowCount
				a.meta["fallback_used"] = true
				a.enter(StageExecuted)
				return res, v.SQL, true, nil
			}
		}
	}

	if kind := warehouse.KindOf(primaryErr); kind != "" {
		a.meta["execution_error_kind"] = string(kind)
	}
	a.enter(StageExecutionFailed)
	if apperr.CategoryOf(primaryErr) != apperr.ExecutionFailed {
		primaryErr = apperr.Wrap(apperr.ExecutionFailed, "the query could not be executed", primaryErr)
	}
	return nil, "", false, primaryErr
}

func (o *Orchestrator) visualize(ctx context.Context, res *warehouse.Result) (spec *visualize.Spec) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WarnContext(ctx, "visualization failed", slog.Any("panic", r))
			spec = nil
		}
	}()
	return visualize.Infer(res.Columns, res.Rows)
}

// rowCap returns the smallest positive bound, or 0 when neither is set.
func rowCap(a, b int) int {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

type attempt struct {
	o         *Orchestrator
	queryType history.QueryType
	userID    uint64
	question  string
	start     time.Time
	sql       string
	model     string
	rowCount  int
	meta      map[string]any
	trace     []Stage
}

func (o *Orchestrator) begin(qt history.QueryType, userID uint64, question string) *attempt {
	return &attempt{
		o:         o,
		queryType: qt,
		userID:    userID,
		question:  question,
		start:     time.Now(),
		meta:      map[string]any{},
		trace:     []Stage{StageReceived},
	}
}

func (a *attempt) enter(s Stage) { a.trace = append(a.trace, s) }

// finish records the terminal outcome. It runs exactly once per attempt.
func (a *attempt) finish(ctx context.Context, resp *Response, err error, okStatus history.Status) (*Response, error) {
	if err == nil && resp == nil {
		err = errors.New("query: pipeline ended without a response")
	}

	entry := history.Entry{
		UserID:         a.userID,
		QueryType:      a.queryType,
		QueryText:      a.question,
		SQL:            a.sql,
		Model:          a.model,
		ProcessingTime: time.Since(a.start),
		RowCount:       a.rowCount,
		Meta:           a.meta,
	}
	category := ""
	if err != nil {
		entry.Status = history.StatusError
		category = string(apperr.CategoryOf(err))
		entry.ErrorCategory = category
		entry.ErrorMessage = err.Error()
		entry.ResponseText = apperr.PublicMessage(err)
	} else {
		entry.Status = okStatus
		entry.ResponseText = summarize(resp)
	}
	if len(a.trace) > 0 {
		entry.Meta["stages"] = stageNames(a.trace)
	}

	id, recErr := a.o.recorder.Record(ctx, entry)
	a.enter(StageRecorded)
	observability.ObservePipelineOutcome(string(a.queryType), string(entry.Status), category)

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	a.o.logger.Log(ctx, level, "query attempt finished",
		slog.String("request_id", observability.RequestIDFromContext(ctx)),
		slog.String("query_type", string(a.queryType)),
		slog.String("status", string(entry.Status)),
		slog.String("category", category),
		slog.Int("rows", a.rowCount),
		slog.Duration("elapsed", entry.ProcessingTime),
		slog.Any("err", err),
	)
	if recErr != nil {
		a.o.logger.WarnContext(ctx, "history not recorded", slog.Any("err", recErr))
	}

	if err != nil {
		return nil, err
	}
	resp.HistoryID = id
	resp.Trace = a.trace
	return resp, nil
}

func stageNames(trace []Stage) []string {
	out := make([]string, len(trace))
	for i, s := range trace {
		out[i] = string(s)
	}
	return out
}

func summarize(resp *Response) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(resp.SQL)
	if resp.Visualization != nil {
		b.WriteString("\nchart: ")
		b.WriteString(string(resp.Visualization.ChartType))
	}
	return b.String()
}
