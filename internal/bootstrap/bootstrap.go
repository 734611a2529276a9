// Package bootstrap 组装各进程共用的流水线组件
package bootstrap

import (
	"log"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/anomaly"
	"github.com/qs3c/anal_data_server/internal/insight"
	"github.com/qs3c/anal_data_server/internal/pipeline"
	"github.com/qs3c/anal_data_server/internal/pkg/llm"
	"github.com/qs3c/anal_data_server/internal/pkg/oss"
	"github.com/qs3c/anal_data_server/internal/pkg/render"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/translator"
	"github.com/qs3c/anal_data_server/internal/viz"
)

// Artifacts 创建产物存储。OSS 配置完整时上传到 OSS，否则写本地目录。
func Artifacts(cfg *config.Config) *render.Store {
	if cfg.OSS.Endpoint == "" || cfg.OSS.AccessKeyID == "" {
		return render.NewStore(nil, cfg.Upload.ArtifactDir)
	}
	client, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		log.Printf("Warning: Failed to init OSS client, using local artifacts: %v", err)
		return render.NewStore(nil, cfg.Upload.ArtifactDir)
	}
	log.Println("OSS client initialized")
	return render.NewStore(client, cfg.Upload.ArtifactDir)
}

func Loader(cfg *config.Config) *table.FileLoader {
	return table.NewFileLoader(cfg.Upload.MaxRows)
}

func Summarizer(cfg *config.Config) *stats.Engine {
	return stats.NewEngine(cfg.Pipeline.MaxCategories)
}

func Translator(cfg *config.Config) *translator.Translator {
	return translator.New(cfg.Translator.MaxAmbiguousColumns, cfg.Translator.DefaultLimit)
}

// Insights 创建洞察生成器。没有 API key 时不连接模型服务。
func Insights(cfg *config.Config) *insight.Generator {
	opts := llm.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	if cfg.LLM.APIKey == "" {
		if !cfg.LLM.MockFallback {
			log.Println("Warning: LLM api key not configured, insights stage will fail")
		}
		return insight.NewGenerator(nil, opts, cfg.LLM.Timeout, cfg.LLM.MockFallback)
	}
	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	return insight.NewGenerator(client, opts, cfg.LLM.Timeout, cfg.LLM.MockFallback)
}

// Orchestrator 按配置组装流水线
func Orchestrator(cfg *config.Config, db *gorm.DB, artifacts *render.Store) *pipeline.Orchestrator {
	detector := anomaly.NewDetector()
	detector.Contamination = cfg.Pipeline.Contamination
	detector.Seed = cfg.Pipeline.Seed
	detector.Trees = cfg.Pipeline.Trees
	detector.SampleSize = cfg.Pipeline.SampleSize
	detector.MaxInvalidExamples = cfg.Pipeline.MaxInvalidExamples

	planner := viz.NewPlanner(artifacts)
	planner.MaxBins = cfg.Pipeline.MaxBins
	planner.MaxBarCategories = cfg.Pipeline.MaxBarCategories
	planner.ScatterPairs = cfg.Pipeline.ScatterPairs

	store := pipeline.NewGormStore(repository.NewAnalysisRepository(db), repository.NewDatasetRepository(db))
	return pipeline.NewOrchestrator(store, pipeline.Components{
		Loader:     Loader(cfg),
		Summarizer: Summarizer(cfg),
		Detector:   detector,
		Planner:    planner,
		Insights:   Insights(cfg),
		Artifacts:  artifacts,
		MaxInserts: cfg.Pipeline.MaxInserts,
	})
}
