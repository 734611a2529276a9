package service

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/testutil"
)

func setupDatasetService(t *testing.T) (*DatasetService, *config.Config) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxSize:           1024,
			Dir:               t.TempDir(),
			AllowedExtensions: []string{".csv", ".tsv"},
		},
	}
	return NewDatasetService(repository.NewDatasetRepository(db), table.NewFileLoader(0), cfg), cfg
}

func uploadDirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestDatasetService_Upload(t *testing.T) {
	svc, cfg := setupDatasetService(t)

	info, err := svc.Upload(context.Background(), "employees.csv", strings.NewReader(testutil.EmployeesCSV), int64(len(testutil.EmployeesCSV)))
	require.NoError(t, err)

	assert.NotZero(t, info.ID)
	assert.Equal(t, "employees.csv", info.Filename)
	assert.Equal(t, 5, info.RowCount)
	assert.Equal(t, 4, info.ColumnCount)
	assert.Equal(t, int64(len(testutil.EmployeesCSV)), info.FileSize)
	require.Len(t, info.Columns, 4)
	assert.Equal(t, "salary", info.Columns[2].Name)
	assert.Equal(t, table.TypeNumeric, info.Columns[2].Type)
	assert.Equal(t, 1, uploadDirEntries(t, cfg.Upload.Dir))

	got, err := svc.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Filename, got.Filename)
	assert.Equal(t, info.Columns, got.Columns)
}

func TestDatasetService_Upload_Rejected(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		svc, cfg := setupDatasetService(t)
		_, err := svc.Upload(context.Background(), "report.pdf", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.Equal(t, 0, uploadDirEntries(t, cfg.Upload.Dir))
	})

	t.Run("extension not allowed by config", func(t *testing.T) {
		svc, _ := setupDatasetService(t)
		_, err := svc.Upload(context.Background(), "book.xlsx", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("declared size too large", func(t *testing.T) {
		svc, _ := setupDatasetService(t)
		_, err := svc.Upload(context.Background(), "big.csv", strings.NewReader("a\n1\n"), 4096)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("stream larger than declared", func(t *testing.T) {
		svc, cfg := setupDatasetService(t)
		content := "a\n" + strings.Repeat("1\n", 1024)
		_, err := svc.Upload(context.Background(), "big.csv", strings.NewReader(content), 10)
		assert.ErrorIs(t, err, ErrFileTooLarge)
		assert.Equal(t, 0, uploadDirEntries(t, cfg.Upload.Dir))
	})

	t.Run("unparseable content", func(t *testing.T) {
		svc, cfg := setupDatasetService(t)
		_, err := svc.Upload(context.Background(), "empty.csv", strings.NewReader(""), 0)
		assert.ErrorIs(t, err, ErrInvalidDataset)
		assert.Equal(t, 0, uploadDirEntries(t, cfg.Upload.Dir))

		items, total, err := svc.List(1, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
	})
}

func TestDatasetService_List(t *testing.T) {
	svc, _ := setupDatasetService(t)

	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		_, err := svc.Upload(context.Background(), name, strings.NewReader(testutil.EmployeesCSV), int64(len(testutil.EmployeesCSV)))
		require.NoError(t, err)
	}

	items, total, err := svc.List(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 2)

	items, _, err = svc.List(2, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDatasetService_Get_NotFound(t *testing.T) {
	svc, _ := setupDatasetService(t)

	_, err := svc.Get(99999)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}
