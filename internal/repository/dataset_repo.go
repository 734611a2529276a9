package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/model"
)

type DatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) Create(dataset *model.Dataset) error {
	return r.db.Create(dataset).Error
}

func (r *DatasetRepository) GetByID(id int64) (*model.Dataset, error) {
	var dataset model.Dataset
	err := r.db.Where("id = ?", id).First(&dataset).Error
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

// List 按上传时间倒序分页
func (r *DatasetRepository) List(page, pageSize int) ([]*model.Dataset, int64, error) {
	var datasets []*model.Dataset
	var total int64

	query := r.db.Model(&model.Dataset{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("uploaded_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&datasets).Error; err != nil {
		return nil, 0, err
	}

	return datasets, total, nil
}

// ListUnanalyzedBefore 上传早于 before 且从未被分析过的数据集
func (r *DatasetRepository) ListUnanalyzedBefore(before time.Time) ([]*model.Dataset, error) {
	var datasets []*model.Dataset
	err := r.db.Where("uploaded_at < ?", before).
		Where("NOT EXISTS (SELECT 1 FROM analyses WHERE analyses.dataset_id = datasets.id)").
		Find(&datasets).Error
	return datasets, err
}

func (r *DatasetRepository) Delete(id int64) error {
	return r.db.Delete(&model.Dataset{}, id).Error
}
