package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/model/dto"
	"github.com/qs3c/anal_data_server/internal/pkg/response"
	"github.com/qs3c/anal_data_server/internal/testutil"
)

func TestAnalysisHandler_Start_Success(t *testing.T) {
	tc := setupHandlers(t)
	dataset := testutil.TestDataset(t, tc.DB)

	w := performRequest(tc.Router, "POST", fmt.Sprintf("/api/v1/datasets/%d/analyze", dataset.ID), nil)
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var started dto.StartAnalysisResponse
	decodeData(t, resp, &started)
	assert.NotZero(t, started.AnalysisID)
	assert.NotZero(t, started.JobID)
	assert.Equal(t, model.AnalysisStatusPending, started.Status)
	assert.False(t, started.Reused)
	assert.Equal(t, int64(1), queueLength(t, tc))

	// 重复提交合并到同一个分析
	w = performRequest(tc.Router, "POST", fmt.Sprintf("/api/v1/datasets/%d/analyze", dataset.ID), nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var again dto.StartAnalysisResponse
	decodeData(t, resp, &again)
	assert.True(t, again.Reused)
	assert.Equal(t, started.AnalysisID, again.AnalysisID)
	assert.Equal(t, int64(1), queueLength(t, tc))
}

func TestAnalysisHandler_Start_Errors(t *testing.T) {
	tc := setupHandlers(t)

	w := performRequest(tc.Router, "POST", "/api/v1/datasets/99999/analyze", nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)

	w = performRequest(tc.Router, "POST", "/api/v1/datasets/0/analyze", nil)
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)
}

func TestAnalysisHandler_Get(t *testing.T) {
	tc := setupHandlers(t)
	dataset := testutil.TestDataset(t, tc.DB)
	analysis := testutil.TestAnalysis(t, tc.DB, dataset.ID,
		testutil.WithStatus(model.AnalysisStatusFailed),
		testutil.WithState(`{"dataset_id":1,"cleaning_report":{"original_rows":5},"statistics":null,"stage":"cleaning","version":2}`, 2),
	)
	require.NoError(t, tc.DB.Model(analysis).Update("error_message", "statistics: boom").Error)

	w := performRequest(tc.Router, "GET", fmt.Sprintf("/api/v1/analyses/%d", analysis.ID), nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var detail dto.AnalysisDetail
	decodeData(t, resp, &detail)
	assert.Equal(t, analysis.ID, detail.ID)
	assert.Equal(t, model.AnalysisStatusFailed, detail.Status)
	assert.Equal(t, "statistics: boom", detail.ErrorMessage)
	assert.Equal(t, 2, detail.StateVersion)
	assert.JSONEq(t, `{"original_rows":5}`, string(detail.Results["cleaning_report"]))

	w = performRequest(tc.Router, "GET", "/api/v1/analyses/99999", nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestAnalysisHandler_ListByDataset(t *testing.T) {
	tc := setupHandlers(t)
	dataset := testutil.TestDataset(t, tc.DB)
	testutil.TestAnalysis(t, tc.DB, dataset.ID, testutil.WithStatus(model.AnalysisStatusCompleted))
	testutil.TestAnalysis(t, tc.DB, dataset.ID)

	w := performRequest(tc.Router, "GET", fmt.Sprintf("/api/v1/datasets/%d/analyses", dataset.ID), nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var page struct {
		Total int64                   `json:"total"`
		Items []*dto.AnalysisListItem `json:"items"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, model.AnalysisStatusPending, page.Items[0].Status)

	w = performRequest(tc.Router, "GET", "/api/v1/datasets/99999/analyses", nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestHealthHandler(t *testing.T) {
	tc := setupHandlers(t)

	w := performRequest(tc.Router, "GET", "/api/v1/health", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var data map[string]interface{}
	decodeData(t, resp, &data)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, float64(0), data["queue_length"])
}
