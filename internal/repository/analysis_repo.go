package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/model"
)

// ErrStaleState 状态写入被拒绝：分析不在 processing 状态或版本没有前进
var ErrStaleState = errors.New("analysis state is stale")

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(analysis *model.Analysis) error {
	return r.db.Create(analysis).Error
}

func (r *AnalysisRepository) GetByID(id int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("id = ?", id).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Transition 条件更新状态：只有当前状态等于 from 时才会生效。
// 返回是否有记录被更新。
func (r *AnalysisRepository) Transition(id int64, from, to string, fields map[string]interface{}) (bool, error) {
	if err := model.Transition(from, to); err != nil {
		return false, err
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.Model(&model.Analysis{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Claim pending -> processing，只有一个调用者能成功
func (r *AnalysisRepository) Claim(id int64, now time.Time) (bool, error) {
	return r.Transition(id, model.AnalysisStatusPending, model.AnalysisStatusProcessing, map[string]interface{}{
		"started_at":    now,
		"error_message": "",
	})
}

// SaveState 持久化阶段结果，版本号必须前进
func (r *AnalysisRepository) SaveState(id int64, stage string, state []byte, version int) error {
	result := r.db.Model(&model.Analysis{}).
		Where("id = ? AND status = ? AND state_version < ?", id, model.AnalysisStatusProcessing, version).
		Updates(map[string]interface{}{
			"state":         model.JSON(state),
			"state_version": version,
			"current_stage": stage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// Complete processing -> completed
func (r *AnalysisRepository) Complete(id int64, state []byte, version int, now time.Time) error {
	ok, err := r.Transition(id, model.AnalysisStatusProcessing, model.AnalysisStatusCompleted, map[string]interface{}{
		"state":         model.JSON(state),
		"state_version": version,
		"completed_at":  now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return nil
}

// Fail processing -> failed，保留已完成阶段的状态
func (r *AnalysisRepository) Fail(id int64, message string, state []byte, version int, now time.Time) error {
	fields := map[string]interface{}{
		"error_message": message,
		"completed_at":  now,
	}
	if state != nil {
		fields["state"] = model.JSON(state)
		fields["state_version"] = version
	}
	ok, err := r.Transition(id, model.AnalysisStatusProcessing, model.AnalysisStatusFailed, fields)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return nil
}

// FindActiveByDataset 查找数据集上尚未结束的分析
func (r *AnalysisRepository) FindActiveByDataset(datasetID int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("dataset_id = ? AND status IN ?", datasetID,
		[]string{model.AnalysisStatusPending, model.AnalysisStatusProcessing}).
		Order("id DESC").
		First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// LatestCompleted 数据集最近一次完成的分析
func (r *AnalysisRepository) LatestCompleted(datasetID int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("dataset_id = ? AND status = ?", datasetID, model.AnalysisStatusCompleted).
		Order("id DESC").
		First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// ListByDataset 获取数据集的分析列表
func (r *AnalysisRepository) ListByDataset(datasetID int64, page, pageSize int) ([]*model.Analysis, int64, error) {
	var analyses []*model.Analysis
	var total int64

	query := r.db.Model(&model.Analysis{}).Where("dataset_id = ?", datasetID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Omit("state").Order("id DESC").Offset(offset).Limit(pageSize).Find(&analyses).Error; err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}

// ListStale 超时的分析：开始时间早于 before 仍在 processing，
// 或创建时间早于 before 仍在 pending（队列消息丢失，永远不会被认领）
func (r *AnalysisRepository) ListStale(before time.Time) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.Omit("state").
		Where("(status = ? AND started_at < ?) OR (status = ? AND created_at < ?)",
			model.AnalysisStatusProcessing, before, model.AnalysisStatusPending, before).
		Order("id ASC").
		Find(&analyses).Error
	return analyses, err
}

// MarkStale 把开始时间早于 before 仍在 processing 的分析标记为失败
func (r *AnalysisRepository) MarkStale(before time.Time, message string, now time.Time) (int64, error) {
	return r.failWhere(model.AnalysisStatusProcessing, "started_at < ?", before, message, now)
}

// MarkOrphaned 把创建时间早于 before 仍在 pending 的分析标记为失败
func (r *AnalysisRepository) MarkOrphaned(before time.Time, message string, now time.Time) (int64, error) {
	return r.failWhere(model.AnalysisStatusPending, "created_at < ?", before, message, now)
}

func (r *AnalysisRepository) failWhere(from, cond string, before time.Time, message string, now time.Time) (int64, error) {
	if err := model.Transition(from, model.AnalysisStatusFailed); err != nil {
		return 0, err
	}
	result := r.db.Model(&model.Analysis{}).
		Where("status = ?", from).
		Where(cond, before).
		Updates(map[string]interface{}{
			"status":        model.AnalysisStatusFailed,
			"error_message": message,
			"completed_at":  now,
		})
	return result.RowsAffected, result.Error
}
