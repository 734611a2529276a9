package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/pipeline"
	"github.com/qs3c/anal_data_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_data_server/internal/pkg/queue"
	"github.com/qs3c/anal_data_server/internal/repository"
)

// ProgressPublisher 进度推送
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 任务处理器：执行流水线，并把阶段进度同步到任务记录和 pub/sub
type Processor struct {
	jobRepo      *repository.JobRepository
	orchestrator *pipeline.Orchestrator
	publisher    ProgressPublisher
}

// NewProcessor 创建任务处理器。publisher 可以为 nil。
func NewProcessor(
	jobRepo *repository.JobRepository,
	orchestrator *pipeline.Orchestrator,
	publisher ProgressPublisher,
) *Processor {
	p := &Processor{
		jobRepo:      jobRepo,
		orchestrator: orchestrator,
		publisher:    publisher,
	}
	orchestrator.OnProgress(p.onProgress)
	return p
}

// Process 处理分析任务。分析已被其他执行者认领时跳过，不视为错误。
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	log.Printf("Job %d: running analysis %d (dataset %d, queued %s ago)",
		msg.JobID, msg.AnalysisID, msg.DatasetID, time.Since(msg.EnqueuedAt).Round(time.Millisecond))

	state, err := p.orchestrator.Run(ctx, msg.AnalysisID)
	switch {
	case err == nil:
		log.Printf("Job %d: analysis %d completed (version %d)", msg.JobID, msg.AnalysisID, state.Version)
		return nil
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		log.Printf("Job %d: analysis %d already claimed, skipping", msg.JobID, msg.AnalysisID)
		return nil
	case errors.Is(err, pipeline.ErrAnalysisNotFound), errors.Is(err, pipeline.ErrDatasetNotFound):
		// 认领之前就失败了，流水线没有发出进度
		p.failJob(msg.JobID, err.Error())
		return fmt.Errorf("job %d: %w", msg.JobID, err)
	default:
		return fmt.Errorf("job %d: %w", msg.JobID, err)
	}
}

func (p *Processor) onProgress(ctx context.Context, ev pipeline.Progress) {
	job, err := p.jobRepo.GetByAnalysisID(ev.AnalysisID)
	if err != nil {
		log.Printf("Analysis %d: no job to update: %v", ev.AnalysisID, err)
		return
	}

	now := time.Now()
	step := string(ev.Stage)

	switch ev.Status {
	case pipeline.StatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.Status = model.JobStatusProcessing
		job.CurrentStep = pubsub.StepMessages[step]
	case pipeline.StatusCompleted:
		step = pubsub.StepDone
		job.Status = model.JobStatusCompleted
		job.CurrentStep = pubsub.StepMessages[step]
		finish(job, now)
	case pipeline.StatusFailed:
		job.Status = model.JobStatusFailed
		job.ErrorMessage = ev.Error
		finish(job, now)
	}

	if err := p.jobRepo.Update(job); err != nil {
		log.Printf("Job %d: failed to update: %v", job.ID, err)
	}

	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		DatasetID:  ev.DatasetID,
		AnalysisID: ev.AnalysisID,
		JobID:      job.ID,
		Status:     ev.Status,
		Step:       step,
		Error:      ev.Error,
	}); err != nil {
		log.Printf("Job %d: failed to publish progress: %v", job.ID, err)
	}
}

func (p *Processor) failJob(jobID int64, message string) {
	job, err := p.jobRepo.GetByID(jobID)
	if err != nil {
		log.Printf("Job %d: failed to load: %v", jobID, err)
		return
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = message
	finish(job, time.Now())
	if err := p.jobRepo.Update(job); err != nil {
		log.Printf("Job %d: failed to update: %v", jobID, err)
	}
}

func finish(job *model.AnalysisJob, now time.Time) {
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.ElapsedSeconds = int(now.Sub(*job.StartedAt).Seconds())
	}
}
