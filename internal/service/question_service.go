package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/pipeline"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/sqlgen"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/translator"
)

var ErrEmptyQuestion = errors.New("问题不能为空")

type QuestionService struct {
	datasetRepo  *repository.DatasetRepository
	analysisRepo *repository.AnalysisRepository
	loader       table.Loader
	summarizer   pipeline.Summarizer
	translator   *translator.Translator
}

func NewQuestionService(
	datasetRepo *repository.DatasetRepository,
	analysisRepo *repository.AnalysisRepository,
	loader table.Loader,
	summarizer pipeline.Summarizer,
	tr *translator.Translator,
) *QuestionService {
	return &QuestionService{
		datasetRepo:  datasetRepo,
		analysisRepo: analysisRepo,
		loader:       loader,
		summarizer:   summarizer,
		translator:   tr,
	}
}

// AskQuestion 把问题翻译为针对数据集表的只读 SQL
func (s *QuestionService) AskQuestion(ctx context.Context, datasetID int64, question string) (*translator.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	dataset, err := s.datasetRepo.GetByID(datasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}

	schema := translator.NewSchema(sqlgen.TableNameFor(dataset.OriginalFilename), dataset.Columns)
	summary := s.summary(ctx, datasetID, dataset.FilePath)

	return s.translator.Translate(schema, summary, question)
}

// summary 优先使用最近一次完成分析的统计结果，否则现场计算。
// 取不到时返回 nil，翻译器只是少了分类取值的匹配。
func (s *QuestionService) summary(ctx context.Context, datasetID int64, path string) *stats.Summary {
	if analysis, err := s.analysisRepo.LatestCompleted(datasetID); err == nil {
		state, err := pipeline.DecodeState(analysis.State)
		if err == nil && state.Statistics != nil {
			return state.Statistics
		}
	}

	if s.loader == nil || s.summarizer == nil {
		return nil
	}
	raw, err := s.loader.Load(ctx, path)
	if err != nil {
		log.Printf("Dataset %d: summary unavailable: %v", datasetID, err)
		return nil
	}
	cleaned, _, err := cleaner.Clean(raw)
	if err != nil {
		log.Printf("Dataset %d: summary unavailable: %v", datasetID, err)
		return nil
	}
	summary, err := s.summarizer.Summarize(cleaned)
	if err != nil {
		log.Printf("Dataset %d: summary unavailable: %v", datasetID, err)
		return nil
	}
	return summary
}
