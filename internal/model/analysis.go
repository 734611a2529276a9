package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 分析状态
const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

var ErrInvalidTransition = errors.New("invalid analysis status transition")

// 允许的状态迁移；completed 和 failed 是终态
var transitions = map[string][]string{
	AnalysisStatusPending:    {AnalysisStatusProcessing, AnalysisStatusFailed},
	AnalysisStatusProcessing: {AnalysisStatusCompleted, AnalysisStatusFailed},
}

// Transition 校验状态迁移是否合法
func Transition(from, to string) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// JSON 原样存储的 JSON 文本字段
type JSON json.RawMessage

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

type Analysis struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	DatasetID    int64      `gorm:"not null;index" json:"dataset_id"`
	Status       string     `gorm:"size:20;default:pending;index" json:"status"` // pending, processing, completed, failed
	CurrentStage string     `gorm:"size:32" json:"current_stage,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	State        JSON       `gorm:"type:json" json:"state,omitempty"`
	StateVersion int        `gorm:"default:0" json:"state_version"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// 关联
	Dataset *Dataset `gorm:"foreignKey:DatasetID" json:"dataset,omitempty"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// Terminal 是否已处于终态
func (a *Analysis) Terminal() bool {
	return a.Status == AnalysisStatusCompleted || a.Status == AnalysisStatusFailed
}
