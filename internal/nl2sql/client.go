// Package nl2sql builds prompts for the model backend and turns its
// responses into SQL, explanations and follow-up questions.
package nl2sql

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/nl2sql-platform/internal/ai"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
)

type Generation struct {
	SQL         string
	FallbackSQL string
	Model       string
	Latency     time.Duration
	// Suggestions parsed from the same response; may be empty.
	Suggestions []string
}

// ResultShape summarizes a result set for the suggestion prompt.
type ResultShape struct {
	Columns  []string
	RowCount int
}

type Client struct {
	provider ai.Provider
	model    string
	logger   *slog.Logger
}

func NewClient(provider ai.Provider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = observability.Discard()
	}
	model := "unknown"
	if n, ok := provider.(ai.ModelNamer); ok && n.ModelName() != "" {
		model = n.ModelName()
	}
	return &Client{provider: provider, model: model, logger: logger}
}

func (c *Client) Model() string { return c.model }

func (c *Client) GenerateSQL(ctx context.Context, question, schema string) (Generation, error) {
	sys, user := buildGenerationMessages(question, schema)

	start := time.Now()
	raw, err := c.provider.Chat(ctx, []ai.Message{ai.System(sys), ai.User(user)})
	gen := Generation{Model: c.model, Latency: time.Since(start)}
	observability.ObserveModelCall("generate_sql", gen.Latency, err)
	if err != nil {
		return gen, apperr.Wrap(apperr.ModelUnavailable, "model backend unavailable, please retry", err)
	}

	ex := Extract(raw)
	if !ex.OK() {
		c.logger.WarnContext(ctx, "sql extraction failed",
			slog.String("raw", truncate(ex.Raw, 500)),
		)
		return gen, apperr.Wrap(apperr.ModelOutputInvalid,
			"could not understand the question, please rephrase it",
			errors.New("no sql found in model response"))
	}

	gen.SQL = ex.SQL
	gen.FallbackSQL = ex.FallbackSQL
	gen.Suggestions = ex.Suggestions
	return gen, nil
}

// StreamExplanation returns a lazy sequence of explanation chunks.
// A failure before the first chunk is ModelUnavailable; a failure after it is
// StreamInterrupted. Either is the final element of the sequence.
func (c *Client) StreamExplanation(ctx context.Context, question, sql string, rows []map[string]any) iter.Seq2[string, error] {
	msgs := []ai.Message{
		ai.System(explanationSystemPrompt),
		ai.User(buildExplanationPrompt(question, sql, rows)),
	}

	sp, ok := c.provider.(ai.StreamProvider)
	if !ok {
		return func(yield func(string, error) bool) {
			start := time.Now()
			text, err := c.provider.Chat(ctx, msgs)
			observability.ObserveModelCall("explain", time.Since(start), err)
			if err != nil {
				yield("", apperr.Wrap(apperr.ModelUnavailable, "model backend unavailable, please retry", err))
				return
			}
			if text != "" {
				yield(text, nil)
			}
		}
	}

	return func(yield func(string, error) bool) {
		start := time.Now()
		started := false
		for chunk, err := range sp.StreamChat(ctx, msgs) {
			if err != nil {
				observability.ObserveModelCall("explain", time.Since(start), err)
				if !started {
					yield("", apperr.Wrap(apperr.ModelUnavailable, "model backend unavailable, please retry", err))
					return
				}
				yield("", apperr.Wrap(apperr.StreamInterrupted, "explanation stream interrupted", err))
				return
			}
			started = true
			if !yield(chunk, nil) {
				return
			}
		}
		observability.ObserveModelCall("explain", time.Since(start), nil)
	}
}

// SuggestFollowups is best-effort: any failure yields an empty list.
func (c *Client) SuggestFollowups(ctx context.Context, question string, shape ResultShape) []string {
	start := time.Now()
	text, err := c.provider.Chat(ctx, []ai.Message{
		ai.System(suggestionSystemPrompt),
		ai.User(buildSuggestionPrompt(question, shape)),
	})
	observability.ObserveModelCall("suggest", time.Since(start), err)
	if err != nil {
		c.logger.WarnContext(ctx, "suggest followups failed", slog.Any("err", err))
		return []string{}
	}
	return parseSuggestions(text)
}

func parseSuggestions(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if m := listItemRe.FindStringSubmatch(t); m != nil {
			t = strings.TrimSpace(m[1])
		} else if !strings.HasSuffix(t, "?") && !strings.HasSuffix(t, "？") {
			continue
		}
		if t != "" {
			out = append(out, t)
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
