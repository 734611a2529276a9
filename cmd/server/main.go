package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/api"
	"github.com/qs3c/anal_data_server/internal/api/handler"
	"github.com/qs3c/anal_data_server/internal/bootstrap"
	"github.com/qs3c/anal_data_server/internal/database"
	"github.com/qs3c/anal_data_server/internal/pkg/cron"
	"github.com/qs3c/anal_data_server/internal/pkg/lock"
	"github.com/qs3c/anal_data_server/internal/pkg/queue"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/service"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Printf("Database connected (%s)", cfg.Database.Driver)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 Queue 和启动锁
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	locker := lock.NewLocker(rdb, "analysis:start:", 30*time.Second)

	// 初始化 Repository
	datasetRepo := repository.NewDatasetRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	jobRepo := repository.NewJobRepository(db)

	// 初始化 Service
	loader := bootstrap.Loader(cfg)
	datasetService := service.NewDatasetService(datasetRepo, loader, cfg)
	analysisService := service.NewAnalysisService(analysisRepo, jobRepo, datasetRepo, jobQueue, locker)
	questionService := service.NewQuestionService(
		datasetRepo,
		analysisRepo,
		loader,
		bootstrap.Summarizer(cfg),
		bootstrap.Translator(cfg),
	)

	// 定时任务：回收卡住的分析，清理过期上传
	cronService := cron.NewService(analysisRepo, datasetRepo, jobRepo, cfg.Pipeline.StaleAfter, cfg.Upload.ExpireHours)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	datasetHandler := handler.NewDatasetHandler(datasetService, questionService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	healthHandler := handler.NewHealthHandler(jobQueue, sqlDB)

	// 初始化 Router
	router := api.NewRouter(datasetHandler, analysisHandler, healthHandler, cfg)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
