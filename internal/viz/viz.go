package viz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
)

// ChartType 图表类型
type ChartType string

const (
	Histogram          ChartType = "histogram"
	CorrelationHeatmap ChartType = "correlation_heatmap"
	BarChart           ChartType = "bar_chart"
	Scatter            ChartType = "scatter"
)

const (
	DefaultMaxBins          = 30
	DefaultMaxBarCategories = 20
	DefaultScatterPairs     = 3
	DefaultMaxPoints        = 1000
)

// Bins 直方图分箱，len(Edges) == len(Counts)+1
type Bins struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

// Spec 一张图表的描述
type Spec struct {
	Type        ChartType                `json:"type"`
	Title       string                   `json:"title"`
	Columns     []string                 `json:"columns"`
	Bins        *Bins                    `json:"bins,omitempty"`
	Categories  []stats.CategoryCount    `json:"categories,omitempty"`
	Matrix      *stats.CorrelationMatrix `json:"matrix,omitempty"`
	Correlation *stats.Float             `json:"correlation,omitempty"`
	Points      [][2]float64             `json:"points,omitempty"`
	Artifact    string                   `json:"artifact,omitempty"`
}

// Renderer 把图表描述渲染为产物，返回产物引用
type Renderer interface {
	Render(ctx context.Context, spec Spec) (string, error)
}

// RenderError 单张图表渲染失败，不影响整体流程
type RenderError struct {
	Chart string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Chart, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Planner 根据列类型和统计摘要规划图表
type Planner struct {
	Renderer         Renderer
	MaxBins          int
	MaxBarCategories int
	ScatterPairs     int
	MaxPoints        int
}

// NewPlanner 创建图表规划器
func NewPlanner(r Renderer) *Planner {
	return &Planner{
		Renderer:         r,
		MaxBins:          DefaultMaxBins,
		MaxBarCategories: DefaultMaxBarCategories,
		ScatterPairs:     DefaultScatterPairs,
		MaxPoints:        DefaultMaxPoints,
	}
}

// Plan 生成图表并逐个渲染。渲染失败的图表被跳过并记入 notes；
// 仅当 ctx 结束时返回错误。
func (p *Planner) Plan(ctx context.Context, t *table.Table, summary *stats.Summary) ([]Spec, []string, error) {
	planned := p.specs(t, summary)
	if p.Renderer == nil {
		return planned, nil, nil
	}

	out := make([]Spec, 0, len(planned))
	var notes []string
	for _, spec := range planned {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ref, err := p.Renderer.Render(ctx, spec)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			var re *RenderError
			if !errors.As(err, &re) {
				re = &RenderError{Chart: spec.Title, Err: err}
			}
			notes = append(notes, "visualizations: "+re.Error())
			continue
		}
		spec.Artifact = ref
		out = append(out, spec)
	}
	return out, notes, nil
}

func (p *Planner) specs(t *table.Table, summary *stats.Summary) []Spec {
	var specs []Spec
	numeric := t.ColumnsOfType(table.TypeNumeric)

	for _, c := range numeric {
		specs = append(specs, Spec{
			Type:    Histogram,
			Title:   "Distribution of " + c.Name(),
			Columns: []string{c.Name()},
			Bins:    histogram(c.Floats(), p.maxBins()),
		})
	}

	if len(numeric) >= 2 && summary != nil && summary.Correlation != nil {
		specs = append(specs, Spec{
			Type:    CorrelationHeatmap,
			Title:   "Correlation matrix",
			Columns: append([]string(nil), summary.Correlation.Columns...),
			Matrix:  summary.Correlation,
		})
	}

	for _, c := range t.ColumnsOfType(table.TypeCategorical) {
		if summary == nil {
			break
		}
		cat, ok := summary.Categorical[c.Name()]
		if !ok || cat.Unique == 0 || cat.Unique > p.maxBar() {
			continue
		}
		specs = append(specs, Spec{
			Type:       BarChart,
			Title:      "Counts of " + c.Name(),
			Columns:    []string{c.Name()},
			Categories: cat.Values,
		})
	}

	if summary != nil && summary.Correlation != nil {
		for _, pair := range topPairs(summary.Correlation, p.scatterPairs()) {
			a, _ := t.Column(pair.a)
			b, _ := t.Column(pair.b)
			r := pair.r
			specs = append(specs, Spec{
				Type:        Scatter,
				Title:       fmt.Sprintf("%s vs %s", pair.a, pair.b),
				Columns:     []string{pair.a, pair.b},
				Correlation: &r,
				Points:      points(a, b, p.maxPoints()),
			})
		}
	}
	return specs
}

func (p *Planner) maxBins() int {
	if p.MaxBins <= 0 {
		return DefaultMaxBins
	}
	return p.MaxBins
}

func (p *Planner) maxBar() int {
	if p.MaxBarCategories <= 0 {
		return DefaultMaxBarCategories
	}
	return p.MaxBarCategories
}

func (p *Planner) scatterPairs() int {
	if p.ScatterPairs < 0 {
		return 0
	}
	if p.ScatterPairs == 0 {
		return DefaultScatterPairs
	}
	return p.ScatterPairs
}

func (p *Planner) maxPoints() int {
	if p.MaxPoints <= 0 {
		return DefaultMaxPoints
	}
	return p.MaxPoints
}

// SturgesBins 按 Sturges 规则计算分箱数
func SturgesBins(n, limit int) int {
	if n <= 1 {
		return 1
	}
	k := int(math.Ceil(math.Log2(float64(n)))) + 1
	if k > limit {
		k = limit
	}
	return k
}

func histogram(values []float64, maxBins int) *Bins {
	if len(values) == 0 {
		return &Bins{Edges: []float64{}, Counts: []int{}}
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &Bins{Edges: []float64{lo - 0.5, hi + 0.5}, Counts: []int{len(values)}}
	}

	k := SturgesBins(len(values), maxBins)
	width := (hi - lo) / float64(k)
	b := &Bins{Edges: make([]float64, k+1), Counts: make([]int, k)}
	for i := 0; i <= k; i++ {
		b.Edges[i] = lo + float64(i)*width
	}
	b.Edges[k] = hi
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= k {
			idx = k - 1
		}
		b.Counts[idx]++
	}
	return b
}

type pair struct {
	a, b string
	r    stats.Float
}

// topPairs 按 |r| 降序选出相关性最强的列对，跳过 NaN
func topPairs(m *stats.CorrelationMatrix, n int) []pair {
	var pairs []pair
	for i := 0; i < len(m.Columns); i++ {
		for j := i + 1; j < len(m.Columns); j++ {
			r := m.Values[i][j]
			if r.IsNaN() {
				continue
			}
			pairs = append(pairs, pair{a: m.Columns[i], b: m.Columns[j], r: r})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return math.Abs(float64(pairs[i].r)) > math.Abs(float64(pairs[j].r))
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	return pairs
}

func points(a, b *table.Column, limit int) [][2]float64 {
	if a == nil || b == nil {
		return nil
	}
	var pts [][2]float64
	for i := 0; i < a.Len() && len(pts) < limit; i++ {
		x, okx := a.Float(i)
		y, oky := b.Float(i)
		if okx && oky {
			pts = append(pts, [2]float64{x, y})
		}
	}
	return pts
}
