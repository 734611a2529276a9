package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
)

const (
	DefaultContamination      = 0.05
	DefaultSeed               = 42
	DefaultTrees              = 100
	DefaultSampleSize         = 256
	DefaultMaxExamples        = 10
	DefaultMaxInvalidExamples = 10
)

// OutlierSummary 单列 IQR 离群统计
type OutlierSummary struct {
	Count      int         `json:"count"`
	Percentage float64     `json:"percentage"`
	Lower      stats.Float `json:"lower"`
	Upper      stats.Float `json:"upper"`
	Examples   []float64   `json:"examples"`
}

// MultivariateOutlier 隔离森林标记的行，Score 越低越异常
type MultivariateOutlier struct {
	Row   int     `json:"row"`
	Score float64 `json:"score"`
}

// Report 异常检测结果
type Report struct {
	Outliers             map[string]OutlierSummary `json:"outliers"`
	DomainAnomalies      map[string][]int          `json:"domain_anomalies"`
	InvalidValues        map[string][]string       `json:"invalid_values"`
	MultivariateOutliers []MultivariateOutlier     `json:"multivariate_outliers"`
	Contamination        float64                   `json:"contamination"`
	Summary              string                    `json:"summary"`
}

// AnomalyError 异常检测阶段的致命错误
type AnomalyError struct {
	Reason string
}

func (e *AnomalyError) Error() string { return "anomaly detection failed: " + e.Reason }

// Detector 异常检测器
type Detector struct {
	Contamination      float64
	Seed               int64
	Trees              int
	SampleSize         int
	MaxExamples        int
	MaxInvalidExamples int
	Now                func() time.Time
}

// NewDetector 使用默认参数创建检测器
func NewDetector() *Detector {
	return &Detector{
		Contamination:      DefaultContamination,
		Seed:               DefaultSeed,
		Trees:              DefaultTrees,
		SampleSize:         DefaultSampleSize,
		MaxExamples:        DefaultMaxExamples,
		MaxInvalidExamples: DefaultMaxInvalidExamples,
		Now:                time.Now,
	}
}

// Detect 对清洗后的表做离群、多变量和业务规则检测；
// 无效值从 raw（清洗前的表）中收集，raw 为 nil 时使用 cleaned。
func (d *Detector) Detect(cleaned, raw *table.Table) (*Report, error) {
	if d.Contamination <= 0 || d.Contamination > 0.5 {
		return nil, &AnomalyError{Reason: fmt.Sprintf("contamination %v out of range (0, 0.5]", d.Contamination)}
	}
	if cleaned == nil {
		return nil, &AnomalyError{Reason: "nil table"}
	}
	if raw == nil {
		raw = cleaned
	}
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}

	report := &Report{
		Outliers:             make(map[string]OutlierSummary),
		InvalidValues:        make(map[string][]string),
		MultivariateOutliers: []MultivariateOutlier{},
		Contamination:        d.Contamination,
	}

	for _, c := range cleaned.ColumnsOfType(table.TypeNumeric) {
		if s, ok := d.iqr(c, cleaned.NumRows()); ok {
			report.Outliers[c.Name()] = s
		}
	}

	numeric := cleaned.ColumnsOfType(table.TypeNumeric)
	if len(numeric) >= 2 && cleaned.NumRows() >= 2 {
		report.MultivariateOutliers = scoreOutliers(matrix(cleaned.NumRows(), numeric), d.trees(), d.sampleSize(), d.Seed, d.Contamination)
	}

	report.DomainAnomalies = ruleContext{t: cleaned, now: now}.apply()
	report.InvalidValues = d.invalidValues(raw)
	report.Summary = summarize(report)
	return report, nil
}

func (d *Detector) trees() int {
	if d.Trees <= 0 {
		return DefaultTrees
	}
	return d.Trees
}

func (d *Detector) sampleSize() int {
	if d.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return d.SampleSize
}

func (d *Detector) iqr(c *table.Column, totalRows int) (OutlierSummary, bool) {
	values := c.Floats()
	if len(values) == 0 {
		return OutlierSummary{}, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := stats.Quantile(sorted, 0.25)
	q3 := stats.Quantile(sorted, 0.75)
	spread := q3 - q1
	lower, upper := q1-1.5*spread, q3+1.5*spread

	maxExamples := d.MaxExamples
	if maxExamples <= 0 {
		maxExamples = DefaultMaxExamples
	}
	s := OutlierSummary{Lower: stats.Float(lower), Upper: stats.Float(upper), Examples: []float64{}}
	for _, v := range values {
		if v < lower || v > upper {
			s.Count++
			if len(s.Examples) < maxExamples {
				s.Examples = append(s.Examples, v)
			}
		}
	}
	if totalRows > 0 {
		s.Percentage = math.Round(float64(s.Count)/float64(totalRows)*10000) / 100
	}
	return s, true
}

// matrix 数值列转为行优先矩阵，缺失值填 0
func matrix(rows int, cols []*table.Column) [][]float64 {
	data := make([][]float64, rows)
	for i := range data {
		row := make([]float64, len(cols))
		for j, c := range cols {
			if v, ok := c.Float(i); ok {
				row[j] = v
			}
		}
		data[i] = row
	}
	return data
}

func (d *Detector) invalidValues(raw *table.Table) map[string][]string {
	limit := d.MaxInvalidExamples
	if limit <= 0 {
		limit = DefaultMaxInvalidExamples
	}
	out := make(map[string][]string)
	for _, c := range raw.Columns() {
		seen := make(map[string]struct{})
		var examples []string
		for i := 0; i < c.Len() && len(examples) < limit; i++ {
			if !c.IsInvalid(i) {
				continue
			}
			v := c.Raw(i)
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			examples = append(examples, v)
		}
		if len(examples) > 0 {
			out[c.Name()] = examples
		}
	}
	return out
}

func summarize(r *Report) string {
	outlierValues := 0
	outlierCols := 0
	for _, s := range r.Outliers {
		if s.Count > 0 {
			outlierValues += s.Count
			outlierCols++
		}
	}
	violations := 0
	for _, rows := range r.DomainAnomalies {
		violations += len(rows)
	}
	invalid := 0
	for _, v := range r.InvalidValues {
		invalid += len(v)
	}

	parts := []string{
		fmt.Sprintf("%d outlier values in %d columns", outlierValues, outlierCols),
		fmt.Sprintf("%d multivariate outlier rows", len(r.MultivariateOutliers)),
		fmt.Sprintf("%d domain rule violations", violations),
	}
	if invalid > 0 {
		parts = append(parts, fmt.Sprintf("%d invalid values", invalid))
	}
	return strings.Join(parts, "; ")
}
