package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/model/dto"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/table"
)

var (
	ErrDatasetNotFound   = errors.New("数据集不存在")
	ErrUnsupportedFormat = errors.New("不支持的文件格式")
	ErrFileTooLarge      = errors.New("文件大小超出限制")
	ErrInvalidDataset    = errors.New("数据集无法解析")
)

type DatasetService struct {
	datasetRepo *repository.DatasetRepository
	loader      table.Loader
	cfg         *config.Config
}

func NewDatasetService(datasetRepo *repository.DatasetRepository, loader table.Loader, cfg *config.Config) *DatasetService {
	return &DatasetService{
		datasetRepo: datasetRepo,
		loader:      loader,
		cfg:         cfg,
	}
}

// Upload 保存上传文件，解析成功后才落库
func (s *DatasetService) Upload(ctx context.Context, originalName string, r io.Reader, size int64) (*dto.DatasetInfo, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !s.allowed(ext) {
		return nil, ErrUnsupportedFormat
	}
	if size > s.cfg.Upload.MaxSize {
		return nil, ErrFileTooLarge
	}

	if err := os.MkdirAll(s.cfg.Upload.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	filename := uuid.New().String() + ext
	path := filepath.Join(s.cfg.Upload.Dir, filename)

	written, err := s.save(path, r)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	tbl, err := s.loader.Load(ctx, path)
	if err != nil {
		os.Remove(path)
		var dataErr *table.DataError
		if errors.As(err, &dataErr) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDataset, dataErr.Reason)
		}
		return nil, err
	}

	dataset := &model.Dataset{
		Filename:         filename,
		OriginalFilename: filepath.Base(originalName),
		FilePath:         path,
		FileSize:         written,
		RowCount:         tbl.NumRows(),
		ColumnCount:      tbl.NumCols(),
		Columns:          tbl.Schema(),
		UploadedAt:       time.Now(),
	}
	if err := s.datasetRepo.Create(dataset); err != nil {
		os.Remove(path)
		return nil, err
	}

	log.Printf("Dataset %d: uploaded %s (%d rows, %d columns)", dataset.ID, dataset.OriginalFilename, dataset.RowCount, dataset.ColumnCount)
	return buildDatasetInfo(dataset), nil
}

// save 写入文件，超过上限时返回 ErrFileTooLarge
func (s *DatasetService) save(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	limit := s.cfg.Upload.MaxSize
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		return 0, fmt.Errorf("failed to save file: %w", err)
	}
	if n > limit {
		return 0, ErrFileTooLarge
	}
	return n, nil
}

func (s *DatasetService) allowed(ext string) bool {
	for _, e := range s.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(e, ext) {
			return table.SupportedExtension("f" + ext)
		}
	}
	return false
}

// List 获取数据集列表
func (s *DatasetService) List(page, pageSize int) ([]*dto.DatasetInfo, int64, error) {
	datasets, total, err := s.datasetRepo.List(page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.DatasetInfo, len(datasets))
	for i, d := range datasets {
		items[i] = buildDatasetInfo(d)
	}
	return items, total, nil
}

// Get 获取数据集详情
func (s *DatasetService) Get(id int64) (*dto.DatasetInfo, error) {
	dataset, err := s.getDataset(id)
	if err != nil {
		return nil, err
	}
	return buildDatasetInfo(dataset), nil
}

func (s *DatasetService) getDataset(id int64) (*model.Dataset, error) {
	dataset, err := s.datasetRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	return dataset, nil
}

func buildDatasetInfo(d *model.Dataset) *dto.DatasetInfo {
	columns := []table.Field(d.Columns)
	if columns == nil {
		columns = []table.Field{}
	}
	return &dto.DatasetInfo{
		ID:          d.ID,
		Filename:    d.OriginalFilename,
		FileSize:    d.FileSize,
		RowCount:    d.RowCount,
		ColumnCount: d.ColumnCount,
		Columns:     columns,
		UploadedAt:  d.UploadedAt.Format(time.RFC3339),
	}
}
