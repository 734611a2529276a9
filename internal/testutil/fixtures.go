package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/table"
)

// EmployeesCSV 端到端场景使用的小数据集
const EmployeesCSV = `name,age,salary,department
Alice,30,50000,Engineering
Bob,25,42000,Sales
Carol,41,61000,Engineering
Dan,35,55000,Marketing
Eve,29,47000,Sales
`

// WriteFile 在临时目录写入文件并返回路径
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

type datasetFixture struct {
	dataset *model.Dataset
	content string
}

// TestDataset 创建测试数据集，文件写入临时目录，列模式由内容推断
func TestDataset(t *testing.T, db *gorm.DB, opts ...func(*datasetFixture)) *model.Dataset {
	t.Helper()

	f := &datasetFixture{
		dataset: &model.Dataset{
			Filename:         "employees.csv",
			OriginalFilename: "employees.csv",
			UploadedAt:       time.Now(),
		},
		content: EmployeesCSV,
	}

	for _, opt := range opts {
		opt(f)
	}

	path := WriteFile(t, f.dataset.Filename, f.content)
	f.dataset.FilePath = path
	f.dataset.FileSize = int64(len(f.content))

	tbl, err := table.NewFileLoader(0).Load(context.Background(), path)
	if err == nil {
		f.dataset.RowCount = tbl.NumRows()
		f.dataset.ColumnCount = tbl.NumCols()
		f.dataset.Columns = tbl.Schema()
	}

	if err := db.Create(f.dataset).Error; err != nil {
		t.Fatalf("Failed to create test dataset: %v", err)
	}

	return f.dataset
}

// WithContent 设置数据集文件内容
func WithContent(content string) func(*datasetFixture) {
	return func(f *datasetFixture) {
		f.content = content
	}
}

// WithFilename 设置原始文件名
func WithFilename(name string) func(*datasetFixture) {
	return func(f *datasetFixture) {
		f.dataset.Filename = name
		f.dataset.OriginalFilename = name
	}
}

// WithUploadedAt 设置上传时间
func WithUploadedAt(at time.Time) func(*datasetFixture) {
	return func(f *datasetFixture) {
		f.dataset.UploadedAt = at
	}
}

// TestAnalysis 创建测试分析
func TestAnalysis(t *testing.T, db *gorm.DB, datasetID int64, opts ...func(*model.Analysis)) *model.Analysis {
	t.Helper()

	analysis := &model.Analysis{
		DatasetID: datasetID,
		Status:    model.AnalysisStatusPending,
	}

	for _, opt := range opts {
		opt(analysis)
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// WithStatus 设置状态
func WithStatus(status string) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.Status = status
	}
}

// WithStartedAt 设置开始时间
func WithStartedAt(at time.Time) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.StartedAt = &at
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.CreatedAt = at
	}
}

// WithState 设置状态 JSON
func WithState(state string, version int) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.State = model.JSON(state)
		a.StateVersion = version
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, analysisID, datasetID int64, status string) *model.AnalysisJob {
	t.Helper()

	job := &model.AnalysisJob{
		AnalysisID: analysisID,
		DatasetID:  datasetID,
		Status:     status,
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}
