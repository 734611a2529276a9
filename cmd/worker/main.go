package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/bootstrap"
	"github.com/qs3c/anal_data_server/internal/database"
	"github.com/qs3c/anal_data_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_data_server/internal/pkg/queue"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/worker"
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
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 组装流水线
	orchestrator := bootstrap.Orchestrator(cfg, db, bootstrap.Artifacts(cfg))
	processor := worker.NewProcessor(repository.NewJobRepository(db), orchestrator, publisher)

	// 创建 context 用于优雅关闭
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	pool := worker.NewPool(jobQueue, processor, cfg.Queue.MaxWorkers)
	if err := pool.Run(ctx); err != nil {
		log.Printf("Worker pool stopped: %v", err)
	}
	log.Println("Worker shutdown complete")
}
