package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/qs3c/anal_data_server/internal/anomaly"
	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/insight"
	"github.com/qs3c/anal_data_server/internal/pkg/llm"
	"github.com/qs3c/anal_data_server/internal/sqlgen"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/viz"
)

type Summarizer interface {
	Summarize(t *table.Table) (*stats.Summary, error)
}

type AnomalyDetector interface {
	Detect(cleaned, raw *table.Table) (*anomaly.Report, error)
}

type ChartPlanner interface {
	Plan(ctx context.Context, t *table.Table, summary *stats.Summary) ([]viz.Spec, []string, error)
}

type InsightGenerator interface {
	Generate(ctx context.Context, summary *stats.Summary, anomalies *anomaly.Report, cleaning *cleaner.Report) (string, error)
}

// ArtifactStore 保存清洗后的文件，返回产物引用
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// 进度状态
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Progress 阶段进度事件
type Progress struct {
	AnalysisID int64
	DatasetID  int64
	Stage      Stage
	Status     string
	Error      string
}

type ProgressFunc func(ctx context.Context, p Progress)

// Components 各阶段的实现
type Components struct {
	Loader     table.Loader
	Summarizer Summarizer
	Detector   AnomalyDetector
	Planner    ChartPlanner
	Insights   InsightGenerator
	Artifacts  ArtifactStore
	MaxInserts int
}

// Orchestrator 按固定顺序执行各阶段，每个阶段结束后持久化状态
type Orchestrator struct {
	store    Store
	c        Components
	progress ProgressFunc
}

func NewOrchestrator(store Store, c Components) *Orchestrator {
	if c.MaxInserts <= 0 {
		c.MaxInserts = sqlgen.DefaultMaxInserts
	}
	if c.Summarizer == nil {
		c.Summarizer = stats.NewEngine(stats.DefaultMaxCategories)
	}
	if c.Detector == nil {
		c.Detector = anomaly.NewDetector()
	}
	if c.Planner == nil {
		c.Planner = viz.NewPlanner(nil)
	}
	return &Orchestrator{store: store, c: c}
}

// OnProgress 设置进度回调
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.progress = fn
}

type runContext struct {
	analysisID int64
	dataset    *Dataset
	state      *AnalysisState
}

type stageFunc func(ctx context.Context, rc *runContext) error

func (o *Orchestrator) stage(s Stage) stageFunc {
	switch s {
	case StageCleaning:
		return o.runCleaning
	case StageStatistics:
		return o.runStatistics
	case StageAnomalies:
		return o.runAnomalies
	case StageVisualizations:
		return o.runVisualizations
	case StageInsights:
		return o.runInsights
	case StageSQL:
		return o.runSQL
	}
	return nil
}

// Run 认领并执行一次分析。认领失败时返回 ErrAlreadyRunning，不执行任何阶段。
// 致命错误会使分析进入 failed，并作为返回值返回。
func (o *Orchestrator) Run(ctx context.Context, analysisID int64) (*AnalysisState, error) {
	ds, err := o.store.Claim(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	log.Printf("Analysis %d: claimed, dataset %d (%s)", analysisID, ds.ID, ds.Name)

	rc := &runContext{analysisID: analysisID, dataset: ds, state: NewState(ds.ID)}

	for _, s := range Stages {
		o.report(ctx, rc, s, StatusProcessing, "")

		if err := o.stage(s)(ctx, rc); err != nil {
			return rc.state, o.fail(ctx, rc, s, err)
		}

		rc.state.Version++
		if err := o.store.SaveState(ctx, analysisID, rc.state); err != nil {
			return rc.state, o.fail(ctx, rc, s, fmt.Errorf("persist state: %w", err))
		}
		log.Printf("Analysis %d: stage %s done (version %d)", analysisID, s, rc.state.Version)
	}

	rc.state.Version++
	if err := o.store.Complete(context.WithoutCancel(ctx), analysisID, rc.state); err != nil {
		return rc.state, fmt.Errorf("failed to complete analysis: %w", err)
	}
	o.report(ctx, rc, StageSQL, StatusCompleted, "")
	log.Printf("Analysis %d: completed with %d notes", analysisID, len(rc.state.Notes))

	return rc.state, nil
}

func (o *Orchestrator) fail(ctx context.Context, rc *runContext, s Stage, cause error) error {
	msg := fmt.Sprintf("%s: %v", s, cause)
	log.Printf("Analysis %d: failed at %s: %v", rc.analysisID, s, cause)

	// 取消的上下文仍需写入失败状态
	ctx = context.WithoutCancel(ctx)
	rc.state.Version++
	if err := o.store.Fail(ctx, rc.analysisID, rc.state, msg); err != nil {
		log.Printf("Analysis %d: failed to record failure: %v", rc.analysisID, err)
	}
	o.report(ctx, rc, s, StatusFailed, msg)

	return fmt.Errorf("%s: %w", s, cause)
}

func (o *Orchestrator) report(ctx context.Context, rc *runContext, s Stage, status, errMsg string) {
	if o.progress == nil {
		return
	}
	o.progress(ctx, Progress{
		AnalysisID: rc.analysisID,
		DatasetID:  rc.dataset.ID,
		Stage:      s,
		Status:     status,
		Error:      errMsg,
	})
}

func (o *Orchestrator) runCleaning(ctx context.Context, rc *runContext) error {
	if o.c.Loader == nil {
		return errors.New("no dataset loader configured")
	}
	raw, err := o.c.Loader.Load(ctx, rc.dataset.Path)
	if err != nil {
		return err
	}

	cleaned, report, err := cleaner.Clean(raw)
	if err != nil {
		return err
	}

	if o.c.Artifacts != nil {
		if ref, err := o.saveCleaned(ctx, rc, cleaned); err != nil {
			rc.state.Note("cleaning: " + err.Error())
		} else {
			report.CleanedFile = ref
		}
	}

	return rc.state.SetCleaning(report, cleaned, raw)
}

func (o *Orchestrator) saveCleaned(ctx context.Context, rc *runContext, cleaned *table.Table) (string, error) {
	data, err := table.EncodeCSV(cleaned)
	if err != nil {
		return "", fmt.Errorf("encode cleaned file: %w", err)
	}
	key := fmt.Sprintf("cleaned/%d/%s.csv", rc.analysisID, sqlgen.TableNameFor(rc.dataset.Name))
	ref, err := o.c.Artifacts.Put(ctx, key, data, "text/csv")
	if err != nil {
		return "", fmt.Errorf("store cleaned file: %w", err)
	}
	return ref, nil
}

func (o *Orchestrator) runStatistics(ctx context.Context, rc *runContext) error {
	summary, err := o.c.Summarizer.Summarize(rc.state.cleaned)
	if err != nil {
		return err
	}
	return rc.state.SetStatistics(summary)
}

func (o *Orchestrator) runAnomalies(ctx context.Context, rc *runContext) error {
	report, err := o.c.Detector.Detect(rc.state.cleaned, rc.state.raw)
	if err != nil {
		return err
	}
	return rc.state.SetAnomalies(report)
}

func (o *Orchestrator) runVisualizations(ctx context.Context, rc *runContext) error {
	specs, notes, err := o.c.Planner.Plan(ctx, rc.state.cleaned, rc.state.Statistics)
	if err != nil {
		return err
	}
	for _, n := range notes {
		rc.state.Note(n)
	}
	return rc.state.SetVisualizations(specs)
}

// runInsights 模型错误不致命：洞察留空并记入 notes
func (o *Orchestrator) runInsights(ctx context.Context, rc *runContext) error {
	if o.c.Insights == nil {
		rc.state.Note("insights: no generator configured")
		return rc.state.SetInsights("")
	}

	text, err := o.c.Insights.Generate(ctx, rc.state.Statistics, rc.state.Anomalies, rc.state.CleaningReport)
	if err != nil {
		var genErr *insight.InsightGenerationError
		var llmErr *llm.LLMError
		if !errors.As(err, &genErr) && !errors.As(err, &llmErr) {
			return err
		}
		log.Printf("Analysis %d: insights skipped: %v", rc.analysisID, err)
		rc.state.Note("insights: " + err.Error())
		text = ""
	}
	return rc.state.SetInsights(text)
}

func (o *Orchestrator) runSQL(ctx context.Context, rc *runContext) error {
	artifact, err := sqlgen.Generate(rc.state.cleaned, sqlgen.TableNameFor(rc.dataset.Name), o.c.MaxInserts)
	if err != nil {
		return err
	}
	return rc.state.SetSQL(artifact)
}
