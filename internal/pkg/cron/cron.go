package cron

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/repository"
)

// 被回收的分析写入的错误信息
const (
	StaleMessage    = "worker lost: analysis exceeded stale timeout"
	OrphanedMessage = "analysis was never picked up by a worker within stale timeout"
)

type Service struct {
	analysisRepo *repository.AnalysisRepository
	datasetRepo  *repository.DatasetRepository
	jobRepo      *repository.JobRepository
	staleAfter   time.Duration
	expireHours  int
	stopChan     chan struct{}
	stopOnce     sync.Once
}

func NewService(
	analysisRepo *repository.AnalysisRepository,
	datasetRepo *repository.DatasetRepository,
	jobRepo *repository.JobRepository,
	staleAfter time.Duration,
	expireHours int,
) *Service {
	return &Service{
		analysisRepo: analysisRepo,
		datasetRepo:  datasetRepo,
		jobRepo:      jobRepo,
		staleAfter:   staleAfter,
		expireHours:  expireHours,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runEvery(time.Minute, func() { s.ReapStale(time.Now()) })
	go s.runEvery(time.Hour, func() { s.ExpireUploads(time.Now()) })
	log.Println("Cron service started (stale reaper + upload expiry)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	log.Println("Cron service stopped")
}

func (s *Service) runEvery(interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			task()
		}
	}
}

// ReapStale 把超时仍在 processing 的分析，以及从未被认领的 pending 分析标记为失败，
// 轮询方因此能看到终态，数据集也可以重新发起分析
func (s *Service) ReapStale(now time.Time) int64 {
	if s.analysisRepo == nil || s.staleAfter <= 0 {
		return 0
	}

	before := now.Add(-s.staleAfter)
	stale, err := s.analysisRepo.ListStale(before)
	if err != nil {
		log.Printf("Reaper: failed to list stale analyses: %v", err)
		return 0
	}

	running, err := s.analysisRepo.MarkStale(before, StaleMessage, now)
	if err != nil {
		log.Printf("Reaper: failed to mark stale analyses: %v", err)
		return 0
	}
	orphaned, err := s.analysisRepo.MarkOrphaned(before, OrphanedMessage, now)
	if err != nil {
		log.Printf("Reaper: failed to mark orphaned analyses: %v", err)
	}

	if s.jobRepo != nil {
		for _, a := range stale {
			message := StaleMessage
			if a.Status == model.AnalysisStatusPending {
				message = OrphanedMessage
			}
			if err := s.jobRepo.FailByAnalysisID(a.ID, message); err != nil {
				log.Printf("Reaper: failed to fail jobs of analysis %d: %v", a.ID, err)
			}
		}
	}
	if n := running + orphaned; n > 0 {
		log.Printf("Reaper: marked %d stale and %d orphaned analyses as %s", running, orphaned, model.AnalysisStatusFailed)
	}
	return running + orphaned
}

// ExpireUploads 删除超过保留时间且从未被分析的数据集及其文件
func (s *Service) ExpireUploads(now time.Time) int {
	if s.datasetRepo == nil || s.expireHours <= 0 {
		return 0
	}

	before := now.Add(-time.Duration(s.expireHours) * time.Hour)
	datasets, err := s.datasetRepo.ListUnanalyzedBefore(before)
	if err != nil {
		log.Printf("Cleanup uploads: failed to list expired datasets: %v", err)
		return 0
	}

	cleaned := 0
	for _, ds := range datasets {
		if err := removeFile(ds.FilePath); err != nil {
			log.Printf("Cleanup uploads: failed to remove %s: %v", ds.FilePath, err)
			continue
		}
		if err := s.datasetRepo.Delete(ds.ID); err != nil {
			log.Printf("Cleanup uploads: failed to delete dataset %d: %v", ds.ID, err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		log.Printf("Cleanup uploads: removed %d expired datasets", cleaned)
	}
	return cleaned
}

func removeFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(filepath.Clean(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
