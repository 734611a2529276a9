package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/model/dto"
	"github.com/qs3c/anal_data_server/internal/pkg/lock"
	"github.com/qs3c/anal_data_server/internal/pkg/queue"
	"github.com/qs3c/anal_data_server/internal/repository"
)

var (
	ErrAnalysisNotFound = errors.New("分析不存在")
	ErrAnalysisBusy     = errors.New("该数据集正在提交分析，请稍后重试")
)

// 同一数据集的提交互斥等待时间
const startLockWait = 3 * time.Second

// JobQueue 分析任务队列
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

type AnalysisService struct {
	analysisRepo *repository.AnalysisRepository
	jobRepo      *repository.JobRepository
	datasetRepo  *repository.DatasetRepository
	queue        JobQueue
	locker       *lock.Locker
}

// NewAnalysisService locker 为 nil 时不做跨进程互斥
func NewAnalysisService(
	analysisRepo *repository.AnalysisRepository,
	jobRepo *repository.JobRepository,
	datasetRepo *repository.DatasetRepository,
	q JobQueue,
	locker *lock.Locker,
) *AnalysisService {
	return &AnalysisService{
		analysisRepo: analysisRepo,
		jobRepo:      jobRepo,
		datasetRepo:  datasetRepo,
		queue:        q,
		locker:       locker,
	}
}

// StartAnalysis 为数据集启动分析。已有进行中的分析时直接返回它。
func (s *AnalysisService) StartAnalysis(ctx context.Context, datasetID int64) (*dto.StartAnalysisResponse, error) {
	if _, err := s.datasetRepo.GetByID(datasetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}

	if s.locker != nil {
		lk, err := s.locker.AcquireWait(ctx, strconv.FormatInt(datasetID, 10), startLockWait)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, ErrAnalysisBusy
			}
			return nil, err
		}
		defer lk.Release(context.WithoutCancel(ctx))
	}

	active, err := s.analysisRepo.FindActiveByDataset(datasetID)
	if err == nil {
		resp := &dto.StartAnalysisResponse{
			AnalysisID: active.ID,
			Status:     active.Status,
			Reused:     true,
		}
		if job, err := s.jobRepo.GetByAnalysisID(active.ID); err == nil {
			resp.JobID = job.ID
		}
		return resp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	analysis := &model.Analysis{
		DatasetID: datasetID,
		Status:    model.AnalysisStatusPending,
	}
	if err := s.analysisRepo.Create(analysis); err != nil {
		return nil, err
	}

	job := &model.AnalysisJob{
		AnalysisID: analysis.ID,
		DatasetID:  datasetID,
		Status:     model.JobStatusQueued,
	}
	if err := s.jobRepo.Create(job); err != nil {
		s.abandon(analysis.ID, err)
		return nil, err
	}

	msg := &queue.JobMessage{
		JobID:      job.ID,
		AnalysisID: analysis.ID,
		DatasetID:  datasetID,
	}
	if err := s.queue.Push(ctx, msg); err != nil {
		s.abandon(analysis.ID, err)
		return nil, fmt.Errorf("failed to enqueue analysis: %w", err)
	}

	log.Printf("Analysis %d: queued as job %d for dataset %d", analysis.ID, job.ID, datasetID)
	return &dto.StartAnalysisResponse{
		AnalysisID: analysis.ID,
		JobID:      job.ID,
		Status:     analysis.Status,
	}, nil
}

// abandon 入队失败时结束分析，避免残留 pending 记录
func (s *AnalysisService) abandon(analysisID int64, cause error) {
	msg := "enqueue: " + cause.Error()
	fields := map[string]interface{}{
		"error_message": msg,
		"completed_at":  time.Now(),
	}
	if _, err := s.analysisRepo.Transition(analysisID, model.AnalysisStatusPending, model.AnalysisStatusFailed, fields); err != nil {
		log.Printf("Analysis %d: failed to mark abandoned: %v", analysisID, err)
	}
	if err := s.jobRepo.FailByAnalysisID(analysisID, msg); err != nil {
		log.Printf("Analysis %d: failed to fail jobs: %v", analysisID, err)
	}
}

// GetAnalysis 获取分析详情，包含已完成阶段的结果
func (s *AnalysisService) GetAnalysis(ctx context.Context, analysisID int64) (*dto.AnalysisDetail, error) {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	detail, err := buildAnalysisDetail(analysis)
	if err != nil {
		return nil, err
	}

	if job, err := s.jobRepo.GetByAnalysisID(analysisID); err == nil {
		detail.Job = &dto.JobStatus{
			JobID:          job.ID,
			Status:         job.Status,
			CurrentStep:    job.CurrentStep,
			ErrorMessage:   job.ErrorMessage,
			ElapsedSeconds: job.ElapsedSeconds,
		}
	}

	return detail, nil
}

// ListByDataset 获取数据集的分析历史
func (s *AnalysisService) ListByDataset(ctx context.Context, datasetID int64, page, pageSize int) ([]*dto.AnalysisListItem, int64, error) {
	if _, err := s.datasetRepo.GetByID(datasetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrDatasetNotFound
		}
		return nil, 0, err
	}

	analyses, total, err := s.analysisRepo.ListByDataset(datasetID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.AnalysisListItem, len(analyses))
	for i, a := range analyses {
		items[i] = &dto.AnalysisListItem{
			ID:           a.ID,
			DatasetID:    a.DatasetID,
			Status:       a.Status,
			CurrentStage: a.CurrentStage,
			ErrorMessage: a.ErrorMessage,
			StartedAt:    formatTime(a.StartedAt),
			CompletedAt:  formatTime(a.CompletedAt),
			CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		}
	}

	return items, total, nil
}

func buildAnalysisDetail(a *model.Analysis) (*dto.AnalysisDetail, error) {
	results := map[string]json.RawMessage{}
	if len(a.State) > 0 {
		if err := json.Unmarshal(a.State, &results); err != nil {
			return nil, fmt.Errorf("failed to decode analysis state: %w", err)
		}
	}

	return &dto.AnalysisDetail{
		ID:           a.ID,
		DatasetID:    a.DatasetID,
		Status:       a.Status,
		CurrentStage: a.CurrentStage,
		ErrorMessage: a.ErrorMessage,
		StateVersion: a.StateVersion,
		Results:      results,
		StartedAt:    formatTime(a.StartedAt),
		CompletedAt:  formatTime(a.CompletedAt),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
