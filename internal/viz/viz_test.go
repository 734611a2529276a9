package viz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
)

type fakeRenderer struct {
	fail     map[ChartType]bool
	rendered []Spec
}

func (f *fakeRenderer) Render(ctx context.Context, spec Spec) (string, error) {
	if f.fail[spec.Type] {
		return "", errors.New("disk full")
	}
	f.rendered = append(f.rendered, spec)
	return fmt.Sprintf("local://chart-%d", len(f.rendered)), nil
}

func employees(t *testing.T) (*table.Table, *stats.Summary) {
	t.Helper()
	tbl, err := table.Infer("employees", []string{"name", "age", "salary", "department", "bonus"}, [][]string{
		{"Alice", "30", "50000", "Eng", "1"},
		{"Bob", "25", "42000", "Ops", "3"},
		{"Carol", "41", "61000", "Eng", "2"},
		{"Dan", "35", "55000", "Sales", "5"},
		{"Eve", "29", "47000", "Ops", "4"},
	})
	require.NoError(t, err)
	summary, err := stats.Summarize(tbl)
	require.NoError(t, err)
	return tbl, summary
}

func countByType(specs []Spec) map[ChartType]int {
	out := make(map[ChartType]int)
	for _, s := range specs {
		out[s.Type]++
	}
	return out
}

func TestPlan_ChartSelection(t *testing.T) {
	tbl, summary := employees(t)
	r := &fakeRenderer{}

	specs, notes, err := NewPlanner(r).Plan(context.Background(), tbl, summary)
	require.NoError(t, err)
	assert.Empty(t, notes)

	counts := countByType(specs)
	assert.Equal(t, 3, counts[Histogram])
	assert.Equal(t, 1, counts[CorrelationHeatmap])
	// name 与 department 都是低基数分类列
	assert.Equal(t, 2, counts[BarChart])
	assert.Equal(t, 3, counts[Scatter])

	for _, s := range specs {
		assert.NotEmpty(t, s.Artifact)
	}
}

func TestPlan_ScatterOrderedByAbsoluteCorrelation(t *testing.T) {
	tbl, summary := employees(t)

	specs, _, err := NewPlanner(nil).Plan(context.Background(), tbl, summary)
	require.NoError(t, err)

	prev := 2.0
	for _, s := range specs {
		if s.Type != Scatter {
			continue
		}
		require.NotNil(t, s.Correlation)
		r := float64(*s.Correlation)
		if r < 0 {
			r = -r
		}
		assert.LessOrEqual(t, r, prev)
		prev = r
		assert.Len(t, s.Points, 5)
	}
}

func TestPlan_RenderErrorIsNonFatal(t *testing.T) {
	tbl, summary := employees(t)
	r := &fakeRenderer{fail: map[ChartType]bool{CorrelationHeatmap: true}}

	specs, notes, err := NewPlanner(r).Plan(context.Background(), tbl, summary)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "disk full")
	assert.Zero(t, countByType(specs)[CorrelationHeatmap])
	assert.Equal(t, 3, countByType(specs)[Histogram])
}

func TestPlan_CancelledContext(t *testing.T) {
	tbl, summary := employees(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewPlanner(&fakeRenderer{}).Plan(ctx, tbl, summary)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan_HighCardinalitySkipsBarChart(t *testing.T) {
	var rows [][]string
	for i := 0; i < 60; i++ {
		rows = append(rows, []string{fmt.Sprintf("c%d", i%25), "x"})
	}
	tbl, err := table.Infer("t", []string{"code", "flag"}, rows)
	require.NoError(t, err)
	require.Equal(t, table.TypeCategorical, tbl.Col(0).Type())
	summary, err := stats.Summarize(tbl)
	require.NoError(t, err)

	specs, _, err := NewPlanner(nil).Plan(context.Background(), tbl, summary)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"flag"}, specs[0].Columns)
}

func TestHistogram(t *testing.T) {
	values := []float64{1, 2, 2, 3, 3, 3, 4, 4, 5, 10}
	b := histogram(values, DefaultMaxBins)

	assert.Len(t, b.Counts, SturgesBins(len(values), DefaultMaxBins))
	assert.Len(t, b.Edges, len(b.Counts)+1)
	total := 0
	for _, c := range b.Counts {
		total += c
	}
	assert.Equal(t, len(values), total)
	assert.Equal(t, 1.0, b.Edges[0])
	assert.Equal(t, 10.0, b.Edges[len(b.Edges)-1])

	flat := histogram([]float64{7, 7, 7}, DefaultMaxBins)
	assert.Equal(t, []int{3}, flat.Counts)
}

func TestSturgesBins(t *testing.T) {
	assert.Equal(t, 1, SturgesBins(1, 30))
	assert.Equal(t, 5, SturgesBins(10, 30))
	assert.Equal(t, 30, SturgesBins(1<<40, 30))
}
