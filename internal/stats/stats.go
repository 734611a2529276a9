package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/qs3c/anal_data_server/internal/table"
)

// DefaultMaxCategories 每个分类列保留的最多取值数
const DefaultMaxCategories = 20

// NumericSummary 数值列的描述统计
type NumericSummary struct {
	Count  int   `json:"count"`
	Mean   Float `json:"mean"`
	Std    Float `json:"std"`
	Min    Float `json:"min"`
	Q1     Float `json:"q1"`
	Median Float `json:"median"`
	Q3     Float `json:"q3"`
	Max    Float `json:"max"`
}

// CategoryCount 分类取值及出现次数
type CategoryCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// CategoricalSummary 分类列的频数表
type CategoricalSummary struct {
	Unique int             `json:"unique"`
	Values []CategoryCount `json:"values"`
}

// CorrelationMatrix 数值列之间的皮尔逊相关系数矩阵
type CorrelationMatrix struct {
	Columns []string  `json:"columns"`
	Values  [][]Float `json:"values"`
}

// At 按列名读取相关系数
func (m *CorrelationMatrix) At(a, b string) (Float, bool) {
	i, j := m.index(a), m.index(b)
	if i < 0 || j < 0 {
		return Float(math.NaN()), false
	}
	return m.Values[i][j], true
}

func (m *CorrelationMatrix) index(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Summary 数据集的统计摘要
type Summary struct {
	RowCount    int                           `json:"row_count"`
	ColumnCount int                           `json:"column_count"`
	Columns     []table.Field                 `json:"columns"`
	Numeric     map[string]NumericSummary     `json:"numeric"`
	Categorical map[string]CategoricalSummary `json:"categorical"`
	Correlation *CorrelationMatrix            `json:"correlation"`
}

// StatisticsError 统计阶段的致命错误
type StatisticsError struct {
	Column string
	Reason string
}

func (e *StatisticsError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("statistics failed on column %q: %s", e.Column, e.Reason)
	}
	return "statistics failed: " + e.Reason
}

// Engine 统计计算
type Engine struct {
	MaxCategories int
}

// NewEngine 创建统计引擎
func NewEngine(maxCategories int) *Engine {
	if maxCategories <= 0 {
		maxCategories = DefaultMaxCategories
	}
	return &Engine{MaxCategories: maxCategories}
}

// Summarize 使用默认参数计算统计摘要
func Summarize(t *table.Table) (*Summary, error) {
	return NewEngine(DefaultMaxCategories).Summarize(t)
}

// Summarize 计算数值描述、分类频数和相关系数矩阵
func (e *Engine) Summarize(t *table.Table) (*Summary, error) {
	if t == nil {
		return nil, &StatisticsError{Reason: "nil table"}
	}

	s := &Summary{
		RowCount:    t.NumRows(),
		ColumnCount: t.NumCols(),
		Columns:     t.Schema(),
		Numeric:     make(map[string]NumericSummary),
		Categorical: make(map[string]CategoricalSummary),
	}

	for _, c := range t.Columns() {
		if c.Len() != t.NumRows() {
			return nil, &StatisticsError{Column: c.Name(), Reason: fmt.Sprintf("has %d values, want %d", c.Len(), t.NumRows())}
		}
		switch c.Type() {
		case table.TypeNumeric:
			s.Numeric[c.Name()] = Describe(c.Floats())
		case table.TypeCategorical, table.TypeText:
			s.Categorical[c.Name()] = e.frequencies(c)
		}
	}

	s.Correlation = Correlate(t.ColumnsOfType(table.TypeNumeric))
	return s, nil
}

// Describe 计算 count/mean/std/min/四分位/max，std 为样本标准差
func Describe(values []float64) NumericSummary {
	nan := Float(math.NaN())
	n := len(values)
	out := NumericSummary{Count: n, Mean: nan, Std: nan, Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	if n == 0 {
		return out
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	out.Mean = Float(mean)
	if n > 1 {
		var ss float64
		for _, v := range sorted {
			d := v - mean
			ss += d * d
		}
		out.Std = Float(math.Sqrt(ss / float64(n-1)))
	}
	out.Min = Float(sorted[0])
	out.Q1 = Float(Quantile(sorted, 0.25))
	out.Median = Float(Quantile(sorted, 0.5))
	out.Q3 = Float(Quantile(sorted, 0.75))
	out.Max = Float(sorted[n-1])
	return out
}

// Quantile 对已排序切片做线性插值分位数
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func (e *Engine) frequencies(c *table.Column) CategoricalSummary {
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

	values := make([]CategoryCount, len(order))
	for i, v := range order {
		values[i] = CategoryCount{Value: v, Count: counts[v]}
	}
	// 稳定排序保证并列时按首次出现的顺序
	sort.SliceStable(values, func(i, j int) bool { return values[i].Count > values[j].Count })
	if len(values) > e.MaxCategories {
		values = values[:e.MaxCategories]
	}
	return CategoricalSummary{Unique: len(order), Values: values}
}

// Correlate 两两计算皮尔逊相关系数，仅使用两列都有值的行。
// 方差为零的列所在行列（含对角线）为 NaN。
func Correlate(cols []*table.Column) *CorrelationMatrix {
	n := len(cols)
	m := &CorrelationMatrix{
		Columns: make([]string, n),
		Values:  make([][]Float, n),
	}
	for i, c := range cols {
		m.Columns[i] = c.Name()
		m.Values[i] = make([]Float, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r := Float(pearson(cols[i], cols[j]))
			m.Values[i][j] = r
			m.Values[j][i] = r
		}
	}
	return m
}

func pearson(a, b *table.Column) float64 {
	var xs, ys []float64
	for i := 0; i < a.Len(); i++ {
		x, okx := a.Float(i)
		y, oky := b.Float(i)
		if okx && oky {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	n := len(xs)
	if n < 2 {
		return math.NaN()
	}
	var mx, my float64
	for k := range xs {
		mx += xs[k]
		my += ys[k]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for k := range xs {
		dx, dy := xs[k]-mx, ys[k]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	if a == b {
		return 1
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r))
}
