package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qs3c/anal_data_server/internal/anomaly"
	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/sqlgen"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/viz"
)

// Stage 流水线阶段
type Stage string

const (
	StageNone           Stage = ""
	StageCleaning       Stage = "cleaning"
	StageStatistics     Stage = "statistics"
	StageAnomalies      Stage = "anomalies"
	StageVisualizations Stage = "visualizations"
	StageInsights       Stage = "insights"
	StageSQL            Stage = "sql"
)

// Stages 固定执行顺序
var Stages = []Stage{
	StageCleaning,
	StageStatistics,
	StageAnomalies,
	StageVisualizations,
	StageInsights,
	StageSQL,
}

func (s Stage) index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

var (
	ErrFieldPopulated = errors.New("analysis state field already populated")
	ErrStageOrder     = errors.New("analysis stage out of order")
)

// AnalysisState 一次分析的累积结果。每个阶段只写自己的字段，且只能写一次。
type AnalysisState struct {
	DatasetID      int64            `json:"dataset_id"`
	CleaningReport *cleaner.Report  `json:"cleaning_report"`
	Statistics     *stats.Summary   `json:"statistics"`
	Anomalies      *anomaly.Report  `json:"anomalies"`
	Visualizations []viz.Spec       `json:"visualizations"`
	Insights       *string          `json:"insights"`
	SQLArtifact    *sqlgen.Artifact `json:"sql_artifact"`
	Stage          Stage            `json:"stage"`
	Notes          []string         `json:"notes,omitempty"`
	Version        int              `json:"version"`

	cleaned *table.Table
	raw     *table.Table
}

// NewState 创建空状态
func NewState(datasetID int64) *AnalysisState {
	return &AnalysisState{DatasetID: datasetID}
}

// DecodeState 解析持久化的状态；空输入得到空状态
func DecodeState(data []byte) (*AnalysisState, error) {
	state := &AnalysisState{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode analysis state: %w", err)
	}
	if state.Stage != StageNone && state.Stage.index() < 0 {
		return nil, fmt.Errorf("failed to decode analysis state: unknown stage %q", state.Stage)
	}
	return state, nil
}

// Populated 阶段对应的字段是否已写入
func (s *AnalysisState) Populated(stage Stage) bool {
	idx := stage.index()
	return idx >= 0 && idx <= s.Stage.index()
}

// Cleaned 清洗后的表，只在运行期间可用
func (s *AnalysisState) Cleaned() *table.Table { return s.cleaned }

func (s *AnalysisState) advance(stage Stage) error {
	want := stage.index()
	if want < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	next := s.Stage.index() + 1
	if want < next {
		return fmt.Errorf("%w: %s", ErrFieldPopulated, stage)
	}
	if want > next {
		return fmt.Errorf("%w: %s after %q", ErrStageOrder, stage, s.Stage)
	}
	s.Stage = stage
	return nil
}

// SetCleaning 写入清洗结果
func (s *AnalysisState) SetCleaning(report *cleaner.Report, cleaned, raw *table.Table) error {
	if err := s.advance(StageCleaning); err != nil {
		return err
	}
	s.CleaningReport = report
	s.cleaned = cleaned
	s.raw = raw
	return nil
}

func (s *AnalysisState) SetStatistics(summary *stats.Summary) error {
	if err := s.advance(StageStatistics); err != nil {
		return err
	}
	s.Statistics = summary
	return nil
}

func (s *AnalysisState) SetAnomalies(report *anomaly.Report) error {
	if err := s.advance(StageAnomalies); err != nil {
		return err
	}
	s.Anomalies = report
	return nil
}

// SetVisualizations 写入图表；没有图表时记为空列表而不是 null
func (s *AnalysisState) SetVisualizations(specs []viz.Spec) error {
	if err := s.advance(StageVisualizations); err != nil {
		return err
	}
	if specs == nil {
		specs = []viz.Spec{}
	}
	s.Visualizations = specs
	return nil
}

// SetInsights 写入洞察文本，模型失败时为空字符串
func (s *AnalysisState) SetInsights(text string) error {
	if err := s.advance(StageInsights); err != nil {
		return err
	}
	s.Insights = &text
	return nil
}

func (s *AnalysisState) SetSQL(artifact *sqlgen.Artifact) error {
	if err := s.advance(StageSQL); err != nil {
		return err
	}
	s.SQLArtifact = artifact
	return nil
}

// Note 记录非致命问题
func (s *AnalysisState) Note(note string) {
	s.Notes = append(s.Notes, note)
}

// Complete 所有阶段都已写入
func (s *AnalysisState) Complete() bool {
	return s.Stage == Stages[len(Stages)-1]
}
