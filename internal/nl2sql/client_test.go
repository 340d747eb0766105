package nl2sql

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/suPer8Hu/nl2sql-platform/internal/ai"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
)

type fakeProvider struct {
	reply  string
	err    error
	chunks []string
	// streamErr is yielded after chunks when set.
	streamErr error
	last      []ai.Message
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.last = append([]ai.Message(nil), messages...)
	return p.reply, p.err
}

func (p *fakeProvider) ModelName() string { return "fake-model" }

type fakeStreamProvider struct {
	fakeProvider
	pulled int
}

func (p *fakeStreamProvider) StreamChat(ctx context.Context, messages []ai.Message) iter.Seq2[string, error] {
	p.last = messages
	return func(yield func(string, error) bool) {
		for _, c := range p.chunks {
			p.pulled++
			if !yield(c, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", p.streamErr)
		}
	}
}

func TestGenerateSQL_Success(t *testing.T) {
	prov := &fakeProvider{reply: "```sql\n-- primary sql\nSELECT 1;\n-- follow-up suggestions\n1. Why?\n```"}
	c := NewClient(prov, nil)

	gen, err := c.GenerateSQL(context.Background(), "how many?", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.SQL != "SELECT 1" || gen.Model != "fake-model" {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if len(gen.Suggestions) != 1 {
		t.Fatalf("unexpected suggestions: %#v", gen.Suggestions)
	}
	if len(prov.last) != 2 || !strings.Contains(prov.last[1].Content, "order_items") {
		t.Fatalf("expected default schema in prompt")
	}
}

func TestGenerateSQL_ModelUnavailable(t *testing.T) {
	c := NewClient(&fakeProvider{err: errors.New("connection refused")}, nil)
	_, err := c.GenerateSQL(context.Background(), "q", "schema")
	if apperr.CategoryOf(err) != apperr.ModelUnavailable {
		t.Fatalf("expected ModelUnavailable, got %v", err)
	}
}

func TestGenerateSQL_OutputInvalid(t *testing.T) {
	c := NewClient(&fakeProvider{reply: "I don't know."}, nil)
	_, err := c.GenerateSQL(context.Background(), "q", "schema")
	if apperr.CategoryOf(err) != apperr.ModelOutputInvalid {
		t.Fatalf("expected ModelOutputInvalid, got %v", err)
	}
	if strings.Contains(apperr.PublicMessage(err), "I don't know") {
		t.Fatalf("raw model output must not be surfaced")
	}
}

func TestStreamExplanation_Chunks(t *testing.T) {
	prov := &fakeStreamProvider{fakeProvider: fakeProvider{chunks: []string{"a", "b", "c"}}}
	c := NewClient(prov, nil)

	var sb strings.Builder
	for chunk, err := range c.StreamExplanation(context.Background(), "q", "SELECT 1", []map[string]any{{"n": 1}}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sb.WriteString(chunk)
	}
	if sb.String() != "abc" {
		t.Fatalf("unexpected text: %q", sb.String())
	}
}

func TestStreamExplanation_ErrorCategories(t *testing.T) {
	drop := errors.New("connection reset")

	mid := &fakeStreamProvider{fakeProvider: fakeProvider{chunks: []string{"a"}, streamErr: drop}}
	var last error
	for _, err := range NewClient(mid, nil).StreamExplanation(context.Background(), "q", "s", nil) {
		last = err
	}
	if apperr.CategoryOf(last) != apperr.StreamInterrupted {
		t.Fatalf("expected StreamInterrupted, got %v", last)
	}

	before := &fakeStreamProvider{fakeProvider: fakeProvider{streamErr: drop}}
	for _, err := range NewClient(before, nil).StreamExplanation(context.Background(), "q", "s", nil) {
		last = err
	}
	if apperr.CategoryOf(last) != apperr.ModelUnavailable {
		t.Fatalf("expected ModelUnavailable, got %v", last)
	}
}

func TestStreamExplanation_StopsPullingOnBreak(t *testing.T) {
	prov := &fakeStreamProvider{fakeProvider: fakeProvider{chunks: []string{"a", "b", "c", "d"}}}
	for range NewClient(prov, nil).StreamExplanation(context.Background(), "q", "s", nil) {
		break
	}
	if prov.pulled != 1 {
		t.Fatalf("expected 1 chunk pulled, got %d", prov.pulled)
	}
}

func TestStreamExplanation_NonStreamingProvider(t *testing.T) {
	c := NewClient(&fakeProvider{reply: "whole text"}, nil)
	var got []string
	for chunk, err := range c.StreamExplanation(context.Background(), "q", "s", nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, chunk)
	}
	if len(got) != 1 || got[0] != "whole text" {
		t.Fatalf("unexpected chunks: %#v", got)
	}
}

func TestExplanationPrompt_CapsRows(t *testing.T) {
	rows := make([]map[string]any, 25)
	for i := range rows {
		rows[i] = map[string]any{"i": i}
	}
	p := buildExplanationPrompt("q", "SELECT i FROM t", rows)
	if !strings.Contains(p, "25 rows total, first 10 shown") {
		t.Fatalf("unexpected prompt header:\n%s", p)
	}
	if strings.Count(p, `{"i":`) != MaxExplainRows {
		t.Fatalf("expected %d rows in prompt", MaxExplainRows)
	}
}

func TestSuggestFollowups_BestEffort(t *testing.T) {
	c := NewClient(&fakeProvider{err: errors.New("down")}, nil)
	got := c.SuggestFollowups(context.Background(), "q", ResultShape{})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}

	c = NewClient(&fakeProvider{reply: "1. A?\n2. B?\n3. C?"}, nil)
	got = c.SuggestFollowups(context.Background(), "q", ResultShape{Columns: []string{"x"}, RowCount: 3})
	if len(got) != 3 {
		t.Fatalf("unexpected suggestions: %#v", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := "每个产品的销量" // 3 bytes per rune
	for n := 1; n < len(s); n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%d) split a rune: %q", n, got)
		}
		if len(strings.TrimSuffix(got, "...")) > n {
			t.Fatalf("truncate(%d) too long: %q", n, got)
		}
	}
	if got := truncate(s, 4); got != "每..." {
		t.Fatalf("unexpected cut: %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("short input changed: %q", got)
	}
}
