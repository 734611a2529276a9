package cleaner

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/qs3c/anal_data_server/internal/table"
)

const (
	MethodMedian = "median"
	MethodMode   = "mode"
	MethodNone   = "none"
)

// Imputation 单列的填充记录
type Imputation struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// Report 清洗报告
type Report struct {
	OriginalRows      int                   `json:"original_rows"`
	CleanedRows       int                   `json:"cleaned_rows"`
	RowsRemoved       int                   `json:"rows_removed"`
	DuplicatesRemoved int                   `json:"duplicates_removed"`
	EmptyRowsRemoved  int                   `json:"empty_rows_removed"`
	Imputations       map[string]Imputation `json:"imputations"`
	CleanedFile       string                `json:"cleaned_file,omitempty"`
}

// CleaningError 清洗阶段的致命错误
type CleaningError struct {
	Reason string
	Err    error
}

func (e *CleaningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cleaning failed: %s: %v", e.Reason, e.Err)
	}
	return "cleaning failed: " + e.Reason
}

func (e *CleaningError) Unwrap() error { return e.Err }

// Clean 删除空行和重复行，并填充缺失值。输入表不会被修改。
func Clean(t *table.Table) (*table.Table, *Report, error) {
	if t == nil {
		return nil, nil, &CleaningError{Reason: "nil table"}
	}
	if t.NumCols() == 0 {
		return nil, nil, &CleaningError{Reason: "table has no columns"}
	}

	report := &Report{
		OriginalRows: t.NumRows(),
		Imputations:  make(map[string]Imputation),
	}

	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		if emptyRow(t, i) {
			report.EmptyRowsRemoved++
			continue
		}
		keep = append(keep, i)
	}
	work := t.Select(keep)

	var removed int
	work, removed = dropDuplicates(work)
	report.DuplicatesRemoved += removed

	work, err := impute(work, report)
	if err != nil {
		return nil, nil, err
	}

	// 填充后可能出现新的重复行
	work, removed = dropDuplicates(work)
	report.DuplicatesRemoved += removed

	report.CleanedRows = work.NumRows()
	report.RowsRemoved = report.OriginalRows - report.CleanedRows
	return work, report, nil
}

func emptyRow(t *table.Table, i int) bool {
	for _, c := range t.Columns() {
		if !c.IsMissing(i) {
			return false
		}
	}
	return true
}

func rowKey(t *table.Table, i int) string {
	var b strings.Builder
	for j, c := range t.Columns() {
		if j > 0 {
			b.WriteByte('\x1f')
		}
		if c.IsMissing(i) {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(c.Raw(i))
	}
	return b.String()
}

func dropDuplicates(t *table.Table) (*table.Table, int) {
	seen := make(map[string]struct{}, t.NumRows())
	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		k := rowKey(t, i)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, i)
	}
	removed := t.NumRows() - len(keep)
	if removed == 0 {
		return t, 0
	}
	return t.Select(keep), removed
}

func impute(t *table.Table, report *Report) (*table.Table, error) {
	fields := t.Schema()
	columns := make([][]string, t.NumCols())
	changed := false

	for j, c := range t.Columns() {
		columns[j] = t.RawColumn(j)
		gaps := c.MissingCount()
		if gaps == 0 {
			continue
		}
		if gaps == c.Len() {
			report.Imputations[c.Name()] = Imputation{Method: MethodNone}
			continue
		}

		var fill, method string
		if c.Type() == table.TypeNumeric {
			m := median(c.Floats())
			fill = strconv.FormatFloat(m, 'f', -1, 64)
			method = MethodMedian
			if fields[j].SubKind == table.SubKindInteger && m != math.Trunc(m) {
				fields[j].SubKind = table.SubKindDecimal
			}
		} else {
			fill = mode(c)
			method = MethodMode
		}

		for i := range columns[j] {
			if !c.HasValue(i) {
				columns[j][i] = fill
			}
		}
		report.Imputations[c.Name()] = Imputation{Method: method, Count: gaps}
		changed = true
	}

	if !changed {
		return t, nil
	}
	out, err := table.FromSchema(t.Name(), fields, columns)
	if err != nil {
		return nil, &CleaningError{Reason: "rebuild table", Err: err}
	}
	return out, nil
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode 取出现次数最多的值，并列时取最先出现的
func mode(c *table.Column) string {
	counts := make(map[string]int)
	var order []string
	for i := 0; i < c.Len(); i++ {
		if !c.HasValue(i) {
			continue
		}
		v := c.Raw(i)
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	best := ""
	bestCount := 0
	for _, v := range order {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}
