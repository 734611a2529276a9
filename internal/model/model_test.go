package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/table"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{AnalysisStatusPending, AnalysisStatusProcessing, true},
		{AnalysisStatusPending, AnalysisStatusFailed, true},
		{AnalysisStatusProcessing, AnalysisStatusCompleted, true},
		{AnalysisStatusProcessing, AnalysisStatusFailed, true},
		{AnalysisStatusCompleted, AnalysisStatusProcessing, false},
		{AnalysisStatusFailed, AnalysisStatusProcessing, false},
		{AnalysisStatusPending, AnalysisStatusCompleted, false},
		{AnalysisStatusProcessing, AnalysisStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			}
		})
	}
}

func TestJSON_ValueAndScan(t *testing.T) {
	var empty JSON
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	var j JSON
	require.NoError(t, j.Scan([]byte(`{"stage":"cleaning"}`)))
	assert.JSONEq(t, `{"stage":"cleaning"}`, string(j))

	require.NoError(t, j.Scan(`{"stage":"sql"}`))
	assert.JSONEq(t, `{"stage":"sql"}`, string(j))

	require.NoError(t, j.Scan(nil))
	assert.Empty(t, j)

	assert.Error(t, j.Scan(42))
}

func TestJSON_EmbedsVerbatim(t *testing.T) {
	a := Analysis{ID: 1, Status: AnalysisStatusCompleted, State: JSON(`{"version":3}`)}
	data, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	state, ok := raw["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), state["version"])
}

func TestFieldArray_RoundTrip(t *testing.T) {
	fields := FieldArray{
		{Name: "age", Type: table.TypeNumeric, SubKind: table.SubKindInteger},
		{Name: "department", Type: table.TypeCategorical},
	}
	v, err := fields.Value()
	require.NoError(t, err)

	var decoded FieldArray
	require.NoError(t, decoded.Scan(v))
	assert.Equal(t, fields, decoded)

	var nilFields FieldArray
	v, err = nilFields.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestAnalysis_Terminal(t *testing.T) {
	assert.False(t, (&Analysis{Status: AnalysisStatusPending}).Terminal())
	assert.False(t, (&Analysis{Status: AnalysisStatusProcessing}).Terminal())
	assert.True(t, (&Analysis{Status: AnalysisStatusCompleted}).Terminal())
	assert.True(t, (&Analysis{Status: AnalysisStatusFailed}).Terminal())
}
