package dto

import "github.com/qs3c/anal_data_server/internal/table"

// DatasetInfo 数据集信息
type DatasetInfo struct {
	ID          int64         `json:"id"`
	Filename    string        `json:"filename"`
	FileSize    int64         `json:"file_size"`
	RowCount    int           `json:"row_count"`
	ColumnCount int           `json:"column_count"`
	Columns     []table.Field `json:"columns"`
	UploadedAt  string        `json:"uploaded_at"`
}

// QuestionRequest 自然语言提问
type QuestionRequest struct {
	Question string `json:"question" binding:"required,max=1000"`
}
