package nl2sql

import (
	"regexp"
	"strings"
)

type ExtractionKind int

const (
	ParseFailure ExtractionKind = iota
	Parsed
)

func (k ExtractionKind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "parse_failure"
}

// Extraction is the result of reading SQL out of a model response.
// When Kind is ParseFailure only Raw is set.
type Extraction struct {
	Kind        ExtractionKind
	SQL         string
	FallbackSQL string
	Suggestions []string
	Raw         string
}

func (e Extraction) OK() bool { return e.Kind == Parsed }

// maxSuggestions bounds how many follow-up questions are kept from one response.
const maxSuggestions = 5

var (
	codeBlockRe  = regexp.MustCompile("(?s)```[ \t]*([A-Za-z]*)[^\n]*\n(.*?)```")
	listItemRe   = regexp.MustCompile(`^(?:--\s*)?(?:\d+\s*[.)、:：]|[-*•])\s*(.+)$`)
	sqlVerbRe    = regexp.MustCompile(`(?i)^\(*\s*(SELECT|WITH|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|SHOW|GRANT|SET)\b`)
	bareSelectRe = regexp.MustCompile(`(?im)^\s*(SELECT|WITH)\b`)
)

type section int

const (
	secNone section = iota
	secPrimary
	secFallback
	secSuggestions
)

func markerSection(line string) (section, bool) {
	if !strings.HasPrefix(line, "--") && !strings.HasPrefix(line, "#") &&
		!strings.HasSuffix(line, ":") && !strings.HasSuffix(line, "：") {
		return secNone, false
	}
	l := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "-# ")))
	l = strings.TrimRight(l, ":：")
	switch {
	case strings.HasPrefix(l, "primary sql"), strings.HasPrefix(l, "主要sql"):
		return secPrimary, true
	case strings.HasPrefix(l, "fallback sql"), strings.HasPrefix(l, "备用sql"):
		return secFallback, true
	case strings.HasPrefix(l, "follow-up"), strings.HasPrefix(l, "followup"),
		strings.HasPrefix(l, "suggest"), strings.HasPrefix(l, "后续查询建议"):
		return secSuggestions, true
	}
	return secNone, false
}

// Extract reads the primary SQL, an optional fallback SQL and optional
// follow-up suggestions out of a raw model response. It understands a
// fenced block with "-- primary sql" / "-- fallback sql" /
// "-- follow-up suggestions" markers, a plain fenced block, and a bare
// response that starts with SELECT or WITH.
func Extract(raw string) Extraction {
	body, rest, fenced := pickBlock(raw)

	primary, fallback, suggestions, marked := splitSections(body)
	if !marked {
		primary = body
	}
	if !fenced && !marked {
		primary = bareSQL(raw)
	}
	if len(suggestions) == 0 && rest != "" {
		_, _, suggestions, _ = splitSections(rest)
	}

	sql := cleanSQL(primary)
	if sql == "" || !sqlVerbRe.MatchString(sql) {
		return Extraction{Kind: ParseFailure, Raw: raw}
	}
	fb := cleanSQL(fallback)
	if fb != "" && !sqlVerbRe.MatchString(fb) {
		fb = ""
	}
	return Extraction{Kind: Parsed, SQL: sql, FallbackSQL: fb, Suggestions: suggestions, Raw: raw}
}

// pickBlock returns the preferred fenced block body (sql-tagged first) and the text outside it.
func pickBlock(raw string) (body, rest string, fenced bool) {
	matches := codeBlockRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return raw, "", false
	}
	chosen := matches[0]
	for _, m := range matches {
		lang := strings.ToLower(raw[m[2]:m[3]])
		if lang == "sql" || lang == "mysql" {
			chosen = m
			break
		}
	}
	return raw[chosen[4]:chosen[5]], raw[:chosen[0]] + "\n" + raw[chosen[1]:], true
}

func splitSections(body string) (primary, fallback string, suggestions []string, marked bool) {
	var pb, fb strings.Builder
	cur := secNone
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if s, ok := markerSection(trimmed); ok {
			cur = s
			marked = true
			continue
		}
		switch cur {
		case secPrimary:
			pb.WriteString(line)
			pb.WriteByte('\n')
		case secFallback:
			fb.WriteString(line)
			fb.WriteByte('\n')
		case secSuggestions:
			if m := listItemRe.FindStringSubmatch(trimmed); m != nil && len(suggestions) < maxSuggestions {
				if q := strings.TrimSpace(m[1]); q != "" {
					suggestions = append(suggestions, q)
				}
			}
		}
	}
	return pb.String(), fb.String(), suggestions, marked
}

// bareSQL takes text from the first line starting with SELECT/WITH up to the next blank line.
func bareSQL(raw string) string {
	loc := bareSelectRe.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	s := raw[loc[0]:]
	if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[:i]
	}
	return s
}

// cleanSQL drops full-line comments and trailing semicolons.
func cleanSQL(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		out = append(out, strings.TrimRight(l, " \t\r"))
	}
	return strings.TrimRight(strings.TrimSpace(strings.Join(out, "\n")), "; \t\r\n")
}
