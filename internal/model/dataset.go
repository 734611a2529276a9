package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/qs3c/anal_data_server/internal/table"
)

// FieldArray 列模式，存为 JSON 数组
type FieldArray []table.Field

func (f FieldArray) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (f *FieldArray) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*f = FieldArray{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(data, f)
}

// Dataset 上传的数据集，创建后不再修改
type Dataset struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	Filename         string     `gorm:"size:255;not null" json:"filename"` // 存储文件名
	OriginalFilename string     `gorm:"size:255;not null" json:"original_filename"`
	FilePath         string     `gorm:"size:500;not null" json:"-"`
	FileSize         int64      `json:"file_size"`
	RowCount         int        `json:"row_count"`
	ColumnCount      int        `json:"column_count"`
	Columns          FieldArray `gorm:"type:json" json:"columns"`
	UploadedAt       time.Time  `gorm:"index" json:"uploaded_at"`
}

func (Dataset) TableName() string {
	return "datasets"
}
