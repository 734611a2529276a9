package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/repository"
)

var (
	ErrAnalysisNotFound = errors.New("analysis not found")
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrAlreadyRunning   = errors.New("analysis already claimed")
)

// Dataset 流水线需要的数据集信息
type Dataset struct {
	ID   int64
	Name string
	Path string
}

// Store 分析状态的持久化
type Store interface {
	// Claim pending -> processing；没有认领成功时返回 ErrAlreadyRunning
	Claim(ctx context.Context, analysisID int64) (*Dataset, error)
	SaveState(ctx context.Context, analysisID int64, state *AnalysisState) error
	Complete(ctx context.Context, analysisID int64, state *AnalysisState) error
	Fail(ctx context.Context, analysisID int64, state *AnalysisState, message string) error
	Load(ctx context.Context, analysisID int64) (*AnalysisState, error)
}

// GormStore 基于 analyses/datasets 表的 Store
type GormStore struct {
	analyses *repository.AnalysisRepository
	datasets *repository.DatasetRepository
}

func NewGormStore(analyses *repository.AnalysisRepository, datasets *repository.DatasetRepository) *GormStore {
	return &GormStore{analyses: analyses, datasets: datasets}
}

func (s *GormStore) Claim(ctx context.Context, analysisID int64) (*Dataset, error) {
	analysis, err := s.analyses.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	dataset, err := s.datasets.GetByID(analysis.DatasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}

	ok, err := s.analyses.Claim(analysisID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	return &Dataset{
		ID:   dataset.ID,
		Name: dataset.OriginalFilename,
		Path: dataset.FilePath,
	}, nil
}

func (s *GormStore) SaveState(ctx context.Context, analysisID int64, state *AnalysisState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode analysis state: %w", err)
	}
	return s.analyses.SaveState(analysisID, string(state.Stage), data, state.Version)
}

func (s *GormStore) Complete(ctx context.Context, analysisID int64, state *AnalysisState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode analysis state: %w", err)
	}
	return s.analyses.Complete(analysisID, data, state.Version, time.Now())
}

func (s *GormStore) Fail(ctx context.Context, analysisID int64, state *AnalysisState, message string) error {
	var data []byte
	version := 0
	if state != nil {
		var err error
		if data, err = json.Marshal(state); err != nil {
			return fmt.Errorf("failed to encode analysis state: %w", err)
		}
		version = state.Version
	}
	return s.analyses.Fail(analysisID, message, data, version, time.Now())
}

func (s *GormStore) Load(ctx context.Context, analysisID int64) (*AnalysisState, error) {
	analysis, err := s.analyses.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	state, err := DecodeState(analysis.State)
	if err != nil {
		return nil, err
	}
	if state.DatasetID == 0 {
		state.DatasetID = analysis.DatasetID
	}
	return state, nil
}
