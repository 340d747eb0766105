// Package visualize picks a chart for a result set from column names and values.
package visualize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type ChartType string

const (
	Line    ChartType = "line"
	Bar     ChartType = "bar"
	Pie     ChartType = "pie"
	Scatter ChartType = "scatter"
	Table   ChartType = "table"
)

type Spec struct {
	ChartType   ChartType      `json:"chart_type"`
	XField      string         `json:"x_field,omitempty"`
	YField      string         `json:"y_field,omitempty"`
	SeriesField string         `json:"series_field,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

var timeTerms = []string{"date", "time", "year", "month", "day", "week", "quarter"}

var periodNames = map[string]bool{"year": true, "month": true, "quarter": true, "week": true, "day": true}

// pieMaxSlices is the largest category count rendered as a pie for share-like measures.
const pieMaxSlices = 6

var shareTerms = []string{"ratio", "share", "percent", "pct", "proportion"}

type column struct {
	name    string
	numeric bool
	timely  bool
	idLike  bool
}

// Infer returns nil when rows are empty. It never fails.
func Infer(columns []string, rows []map[string]any) *Spec {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}

	cols := make([]column, 0, len(columns))
	for _, name := range columns {
		cols = append(cols, inspect(name, rows))
	}

	var timeCol, catCols, idCols, measures []column
	for _, c := range cols {
		switch {
		case c.timely:
			timeCol = append(timeCol, c)
		case c.idLike:
			idCols = append(idCols, c)
		case c.numeric:
			measures = append(measures, c)
		default:
			catCols = append(catCols, c)
		}
	}
	// ids only label the x axis when nothing better exists
	xCols := append(append([]column(nil), catCols...), idCols...)

	cfg := map[string]any{"row_count": len(rows)}
	switch {
	case len(timeCol) > 0 && len(measures) > 0:
		s := &Spec{ChartType: Line, XField: timeCol[0].name, YField: measures[0].name, Config: cfg}
		if len(catCols) > 0 {
			s.SeriesField = catCols[0].name
		}
		cfg["title"] = measures[0].name + " over " + timeCol[0].name
		return s

	case len(xCols) > 0 && len(measures) > 0:
		chart := Bar
		if len(catCols) <= 1 && len(rows) <= pieMaxSlices && hasTerm(measures[0].name, shareTerms) {
			chart = Pie
		}
		s := &Spec{ChartType: chart, XField: xCols[0].name, YField: measures[0].name, Config: cfg}
		if len(catCols) > 1 {
			s.SeriesField = catCols[1].name
		}
		cfg["title"] = measures[0].name + " by " + xCols[0].name
		if len(measures) > 1 {
			extra := make([]string, 0, len(measures)-1)
			for _, m := range measures[1:] {
				extra = append(extra, m.name)
			}
			cfg["extra_measures"] = extra
		}
		return s

	case len(measures) >= 2:
		cfg["title"] = measures[1].name + " vs " + measures[0].name
		return &Spec{ChartType: Scatter, XField: measures[0].name, YField: measures[1].name, Config: cfg}
	}

	return &Spec{ChartType: Table, Config: cfg}
}

func inspect(name string, rows []map[string]any) column {
	lower := strings.ToLower(name)
	c := column{
		name:   name,
		idLike: lower == "id" || strings.HasSuffix(lower, "_id"),
	}

	seen, numeric, timeVals := 0, 0, 0
	for _, r := range rows {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		seen++
		if isNumber(v) {
			numeric++
		}
		if isTimeValue(v) {
			timeVals++
		}
	}
	c.numeric = seen > 0 && numeric == seen
	// numeric columns only count as time by name when named exactly like a period
	byName := hasTerm(lower, timeTerms) && (!c.numeric || periodNames[lower])
	c.timely = byName || (seen > 0 && timeVals == seen)
	return c
}

func hasTerm(name string, terms []string) bool {
	lower := strings.ToLower(name)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil && strings.TrimSpace(x) != ""
	}
	return false
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006-01"}

func isTimeValue(v any) bool {
	switch x := v.(type) {
	case time.Time:
		return true
	case string:
		for _, l := range timeLayouts {
			if _, err := time.Parse(l, x); err == nil {
				return true
			}
		}
	}
	return false
}
