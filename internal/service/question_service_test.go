package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/translator"
	"github.com/qs3c/anal_data_server/internal/testutil"
)

type countingSummarizer struct {
	calls int
}

func (c *countingSummarizer) Summarize(t *table.Table) (*stats.Summary, error) {
	c.calls++
	return stats.Summarize(t)
}

func setupQuestionService(t *testing.T) (*QuestionService, *countingSummarizer, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	summarizer := &countingSummarizer{}
	svc := NewQuestionService(
		repository.NewDatasetRepository(db),
		repository.NewAnalysisRepository(db),
		table.NewFileLoader(0),
		summarizer,
		translator.New(0, 0),
	)
	return svc, summarizer, db
}

func TestQuestionService_AskQuestion(t *testing.T) {
	svc, summarizer, db := setupQuestionService(t)
	dataset := testutil.TestDataset(t, db)

	ans, err := svc.AskQuestion(context.Background(), dataset.ID, "  average salary in Engineering  ")
	require.NoError(t, err)

	assert.Equal(t, "average salary in Engineering", ans.Question)
	assert.False(t, ans.NeedsClarification)
	require.NotNil(t, ans.SQLQuery)
	assert.Equal(t, "SELECT AVG(salary) FROM employees WHERE department = 'Engineering'", *ans.SQLQuery)
	assert.Equal(t, "employees", ans.TableName)
	assert.Equal(t, "INTEGER", ans.Schema["salary"])
	assert.Len(t, ans.Schema, 4)
	assert.Equal(t, 1, summarizer.calls)
}

func TestQuestionService_UsesCompletedAnalysis(t *testing.T) {
	svc, summarizer, db := setupQuestionService(t)
	dataset := testutil.TestDataset(t, db)

	state := `{"dataset_id":1,"statistics":{"row_count":5,"numeric":{},"categorical":{"department":{"unique":1,"values":[{"value":"Engineering","count":2}]}},"correlation":null},"stage":"sql","version":7}`
	testutil.TestAnalysis(t, db, dataset.ID,
		testutil.WithStatus(model.AnalysisStatusCompleted),
		testutil.WithState(state, 7),
	)

	ans, err := svc.AskQuestion(context.Background(), dataset.ID, "average salary in Engineering")
	require.NoError(t, err)
	require.NotNil(t, ans.SQLQuery)
	assert.Contains(t, *ans.SQLQuery, "department = 'Engineering'")
	assert.Zero(t, summarizer.calls)
}

func TestQuestionService_Clarification(t *testing.T) {
	svc, _, db := setupQuestionService(t)
	dataset := testutil.TestDataset(t, db)

	ans, err := svc.AskQuestion(context.Background(), dataset.ID, "tell me something interesting")
	require.NoError(t, err)
	assert.True(t, ans.NeedsClarification)
	assert.Nil(t, ans.SQLQuery)
	require.NotNil(t, ans.ClarificationMessage)
	assert.NotEmpty(t, *ans.ClarificationMessage)
}

func TestQuestionService_Errors(t *testing.T) {
	svc, _, db := setupQuestionService(t)
	dataset := testutil.TestDataset(t, db)

	_, err := svc.AskQuestion(context.Background(), dataset.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.AskQuestion(context.Background(), 99999, "how many rows")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}
