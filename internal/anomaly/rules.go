package anomaly

import (
	"sort"
	"strings"
	"time"

	"github.com/qs3c/anal_data_server/internal/table"
)

// 列名包含这些词时，负值视为异常
var nonNegativeHints = []string{
	"age", "salary", "price", "amount", "count", "quantity", "qty", "income",
	"cost", "revenue", "years", "experience", "weight", "height", "duration",
	"score", "total",
}

func nameTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-' || r == '.'
	})
}

func hasToken(name string, words ...string) bool {
	for _, tok := range nameTokens(name) {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

type ruleContext struct {
	t   *table.Table
	now time.Time
}

func (rc ruleContext) apply() map[string][]int {
	out := make(map[string][]int)
	add := func(rule string, rows []int) {
		if len(rows) > 0 {
			out[rule] = rows
		}
	}

	numeric := rc.t.ColumnsOfType(table.TypeNumeric)
	for _, c := range numeric {
		if hasToken(c.Name(), nonNegativeHints...) {
			add("negative_"+c.Name(), rowsWhere(c, func(v float64) bool { return v < 0 }))
		}
		if hasToken(c.Name(), "age") {
			add("invalid_age", rowsWhere(c, func(v float64) bool { return v < 0 || v > 120 }))
		}
		if isYearColumn(c.Name()) {
			limit := float64(rc.now.Year())
			add("future_year", rowsWhere(c, func(v float64) bool { return v > limit }))
		}
	}

	if age, exp := findColumn(numeric, "age"), findColumn(numeric, "experience", "exp"); age != nil && exp != nil {
		var rows []int
		for i := 0; i < rc.t.NumRows(); i++ {
			a, okA := age.Float(i)
			e, okE := exp.Float(i)
			if okA && okE && e > a {
				rows = append(rows, i)
			}
		}
		add("exp_gt_age", rows)
	}

	lower := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := rc.now.AddDate(1, 0, 0)
	var dateRows []int
	seen := make(map[int]struct{})
	for _, c := range rc.t.ColumnsOfType(table.TypeDatetime) {
		for i := 0; i < c.Len(); i++ {
			tm, ok := c.Time(i)
			if !ok {
				continue
			}
			if tm.Before(lower) || tm.After(upper) {
				if _, dup := seen[i]; !dup {
					seen[i] = struct{}{}
					dateRows = append(dateRows, i)
				}
			}
		}
	}
	sort.Ints(dateRows)
	add("date_out_of_range", dateRows)
	return out
}

func isYearColumn(name string) bool {
	toks := nameTokens(name)
	return len(toks) > 0 && toks[len(toks)-1] == "year"
}

func findColumn(cols []*table.Column, words ...string) *table.Column {
	for _, c := range cols {
		if hasToken(c.Name(), words...) {
			return c
		}
	}
	return nil
}

func rowsWhere(c *table.Column, pred func(float64) bool) []int {
	var rows []int
	for i := 0; i < c.Len(); i++ {
		if v, ok := c.Float(i); ok && pred(v) {
			rows = append(rows, i)
		}
	}
	return rows
}
