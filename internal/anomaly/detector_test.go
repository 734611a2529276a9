package anomaly

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/table"
)

func fixedNow() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

func newTestDetector() *Detector {
	d := NewDetector()
	d.Now = fixedNow
	return d
}

func clusteredTable(t *testing.T) *table.Table {
	t.Helper()
	var rows [][]string
	for i := 0; i < 40; i++ {
		x := 10 + float64(i%7)*0.1
		y := 20 + float64(i%5)*0.1
		rows = append(rows, []string{fmt.Sprintf("%.1f", x), fmt.Sprintf("%.1f", y)})
	}
	rows = append(rows, []string{"1000", "-1000"})
	tbl, err := table.Infer("points", []string{"x", "y"}, rows)
	require.NoError(t, err)
	return tbl
}

func TestDetect_IQRBounds(t *testing.T) {
	tbl := clusteredTable(t)

	report, err := newTestDetector().Detect(tbl, nil)
	require.NoError(t, err)

	for name, s := range report.Outliers {
		col, _ := tbl.Column(name)
		values := col.Floats()
		assert.LessOrEqual(t, float64(s.Lower), float64(s.Upper), name)
		assert.LessOrEqual(t, len(s.Examples), DefaultMaxExamples)
		assert.Len(t, values, tbl.NumRows())
	}

	x := report.Outliers["x"]
	assert.Equal(t, 1, x.Count)
	assert.Equal(t, []float64{1000}, x.Examples)
	assert.InDelta(t, 100.0/41.0, x.Percentage, 0.01)
}

func TestDetect_IsolationForest(t *testing.T) {
	tbl := clusteredTable(t)

	first, err := newTestDetector().Detect(tbl, nil)
	require.NoError(t, err)
	second, err := newTestDetector().Detect(tbl, nil)
	require.NoError(t, err)

	want := int(math.Ceil(DefaultContamination * float64(tbl.NumRows())))
	require.Len(t, first.MultivariateOutliers, want)
	assert.Equal(t, first.MultivariateOutliers, second.MultivariateOutliers)

	assert.Equal(t, 40, first.MultivariateOutliers[0].Row)
	for i := 1; i < len(first.MultivariateOutliers); i++ {
		assert.LessOrEqual(t, first.MultivariateOutliers[i-1].Score, first.MultivariateOutliers[i].Score)
	}
	assert.Less(t, first.MultivariateOutliers[0].Score, 0.0)
}

func TestDetect_IsolationForestNeedsTwoNumericColumns(t *testing.T) {
	tbl, err := table.Infer("t", []string{"v", "label"}, [][]string{
		{"1", "a"}, {"2", "b"}, {"3", "c"}, {"100", "d"},
	})
	require.NoError(t, err)

	report, err := newTestDetector().Detect(tbl, nil)
	require.NoError(t, err)
	assert.Empty(t, report.MultivariateOutliers)
}

func TestDetect_DomainRules(t *testing.T) {
	tbl, err := table.Infer("people", []string{"age", "years_experience", "salary", "birth_year", "hired"}, [][]string{
		{"30", "5", "50000", "1994", "2020-01-01"},
		{"-5", "1", "42000", "1990", "2019-05-05"},
		{"150", "2", "-10", "2999", "1850-01-01"},
		{"25", "30", "47000", "1999", "2021-01-01"},
	})
	require.NoError(t, err)

	report, err := newTestDetector().Detect(tbl, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, report.DomainAnomalies["negative_age"])
	assert.Equal(t, []int{1, 2}, report.DomainAnomalies["invalid_age"])
	assert.Equal(t, []int{2}, report.DomainAnomalies["negative_salary"])
	assert.Equal(t, []int{1, 3}, report.DomainAnomalies["exp_gt_age"])
	assert.Equal(t, []int{2}, report.DomainAnomalies["future_year"])
	assert.Equal(t, []int{2}, report.DomainAnomalies["date_out_of_range"])
	assert.NotContains(t, report.DomainAnomalies, "negative_years_experience")
}

func TestDetect_InvalidValuesFromRawTable(t *testing.T) {
	var rows [][]string
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{fmt.Sprint(i)})
	}
	rows = append(rows, []string{"oops"}, []string{"oops"})
	raw, err := table.Infer("t", []string{"n"}, rows)
	require.NoError(t, err)
	require.Equal(t, table.TypeNumeric, raw.Col(0).Type())

	d := newTestDetector()
	d.MaxInvalidExamples = 1
	report, err := d.Detect(raw, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"oops"}, report.InvalidValues["n"])
	assert.Contains(t, report.Summary, "invalid values")
}

func TestDetect_Contamination(t *testing.T) {
	tbl := clusteredTable(t)

	for _, c := range []float64{0, -0.1, 0.6} {
		d := newTestDetector()
		d.Contamination = c
		_, err := d.Detect(tbl, nil)
		var ae *AnomalyError
		assert.True(t, errors.As(err, &ae), "contamination %v", c)
	}

	d := newTestDetector()
	d.Contamination = 0.5
	report, err := d.Detect(tbl, nil)
	require.NoError(t, err)
	assert.Len(t, report.MultivariateOutliers, 21)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}
