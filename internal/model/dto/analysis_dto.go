package dto

import "encoding/json"

// StartAnalysisResponse 启动分析响应。Reused 表示合并到了已有的进行中分析。
type StartAnalysisResponse struct {
	AnalysisID int64  `json:"analysis_id"`
	JobID      int64  `json:"job_id,omitempty"`
	Status     string `json:"status"`
	Reused     bool   `json:"reused"`
}

// AnalysisListItem 分析列表项
type AnalysisListItem struct {
	ID           int64  `json:"id"`
	DatasetID    int64  `json:"dataset_id"`
	Status       string `json:"status"`
	CurrentStage string `json:"current_stage,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// AnalysisDetail 分析详情，Results 是按字段名展开的分析状态
type AnalysisDetail struct {
	ID           int64                      `json:"id"`
	DatasetID    int64                      `json:"dataset_id"`
	Status       string                     `json:"status"`
	CurrentStage string                     `json:"current_stage,omitempty"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	StateVersion int                        `json:"state_version"`
	Results      map[string]json.RawMessage `json:"results"`
	Job          *JobStatus                 `json:"job,omitempty"`
	StartedAt    string                     `json:"started_at,omitempty"`
	CompletedAt  string                     `json:"completed_at,omitempty"`
	CreatedAt    string                     `json:"created_at"`
	UpdatedAt    string                     `json:"updated_at"`
}

// JobStatus 任务状态
type JobStatus struct {
	JobID          int64  `json:"job_id"`
	Status         string `json:"status"`
	CurrentStep    string `json:"current_step,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}
