// Package sqlguard decides whether model-generated SQL may be executed.
//
// Validation is pure: it never touches a database and returns the same
// verdict for the same input. Checks run in order: empty text, blocked
// keywords, read-only classification, then LIMIT injection.
//
// The keyword check is a whole-word, case-insensitive scan of the raw text.
// It does not know about string literals or identifiers, so a literal such
// as 'please delete me' is rejected too. Callers that need finer control
// should narrow Policy.BlockedKeywords.
//
// LIMIT injection looks at the top-level statement when the parser accepts
// the text, so a LIMIT inside a subquery still gets an outer one. When the
// parser rejects the text, any LIMIT token counts. Trailing comments are
// dropped before the clause is appended.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

type Policy struct {
	BlockedKeywords []string
	EnforceReadOnly bool
	// AutoLimit appends "LIMIT n" to select statements that carry none. 0 disables it.
	AutoLimit int
}

type Kind string

const (
	KindSelect  Kind = "select"
	KindUnion   Kind = "union"
	KindOther   Kind = "other"
	KindUnknown Kind = "unknown"
)

func (k Kind) readOnly() bool { return k == KindSelect || k == KindUnion }

type Verdict struct {
	Allowed bool
	Reason  string
	// SQL is the text to execute, possibly rewritten with a LIMIT clause.
	SQL  string
	Kind Kind
	// Parsed is false when classification fell back to the textual check.
	Parsed bool
}

var parserPool = sync.Pool{New: func() any { return parser.New() }}

var (
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\b`)
	leadingWordRe = regexp.MustCompile(`^[A-Za-z]+`)
	keywordCache  sync.Map // string -> *regexp.Regexp
)

func Validate(sql string, p Policy) Verdict {
	text := strings.TrimSpace(sql)
	if text == "" {
		return reject(sql, KindUnknown, false, "empty sql")
	}

	for _, kw := range p.BlockedKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if keywordRe(kw).MatchString(text) {
			return reject(text, KindUnknown, false, "forbidden keyword: "+strings.ToUpper(kw))
		}
	}

	kind, parsed, hasLimit, err := classify(text)
	if p.EnforceReadOnly {
		if err != nil {
			return reject(text, kind, parsed, err.Error())
		}
		if !kind.readOnly() {
			return reject(text, kind, parsed, "only SELECT statements are allowed")
		}
	}

	out := text
	if p.AutoLimit > 0 && kind.readOnly() && !hasLimit {
		out = strings.TrimRight(text[:codeEnd(text)], "; \t\r\n") + " LIMIT " + strconv.Itoa(p.AutoLimit)
	}
	return Verdict{Allowed: true, SQL: out, Kind: kind, Parsed: parsed}
}

func reject(sql string, kind Kind, parsed bool, reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason, SQL: sql, Kind: kind, Parsed: parsed}
}

func keywordRe(kw string) *regexp.Regexp {
	key := strings.ToUpper(kw)
	if v, ok := keywordCache.Load(key); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`)
	keywordCache.Store(key, re)
	return re
}

// classify parses sql with the MySQL-compatible TiDB parser and reports
// whether the top-level statement carries a LIMIT. When the parser rejects
// the text, it falls back to a textual check of the leading keyword.
func classify(sql string) (Kind, bool, bool, error) {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)

	stmts, _, err := p.Parse(sql, "", "")
	if err != nil {
		kind, err := classifyText(sql)
		return kind, false, limitRe.MatchString(sql), err
	}
	if len(stmts) != 1 {
		return KindOther, true, false, fmt.Errorf("expected a single statement, got %d", len(stmts))
	}
	switch st := stmts[0].(type) {
	case *ast.SelectStmt:
		return KindSelect, true, st.Limit != nil, nil
	case *ast.SetOprStmt:
		return KindUnion, true, st.Limit != nil, nil
	default:
		return KindOther, true, false, nil
	}
}

func classifyText(sql string) (Kind, error) {
	body := stripLeadingComments(sql)
	if i := strings.Index(strings.TrimRight(body, "; \t\r\n"), ";"); i >= 0 {
		return KindOther, fmt.Errorf("multiple statements are not allowed")
	}
	switch strings.ToUpper(leadingWordRe.FindString(strings.TrimLeft(body, "( \t\r\n"))) {
	case "SELECT", "WITH":
		return KindSelect, nil
	default:
		return KindOther, nil
	}
}

// codeEnd returns the offset just past the last character that is neither
// whitespace nor part of a comment. Quoted text is code.
func codeEnd(sql string) int {
	end := 0
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			j := i + 1
			for j < len(sql) && sql[j] != ch {
				if sql[j] == '\\' && ch != '`' {
					j++
				}
				j++
			}
			i = min(j, len(sql)-1)
			end = i + 1
		case ch == '#' || (ch == '-' && strings.HasPrefix(sql[i:], "--") && (i+2 == len(sql) || isSpace(sql[i+2]))):
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case ch == '/' && strings.HasPrefix(sql[i:], "/*"):
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return end
			}
			i += j + 3
		case isSpace(ch):
		default:
			end = i + 1
		}
	}
	return end
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func stripLeadingComments(sql string) string {
	s := strings.TrimSpace(sql)
	for {
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+1:])
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+2:])
		default:
			return s
		}
	}
}
