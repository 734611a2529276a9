package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/api/handler"
	"github.com/qs3c/anal_data_server/internal/api/middleware"
)

type Router struct {
	datasetHandler  *handler.DatasetHandler
	analysisHandler *handler.AnalysisHandler
	healthHandler   *handler.HealthHandler
	cfg             *config.Config
}

func NewRouter(
	datasetHandler *handler.DatasetHandler,
	analysisHandler *handler.AnalysisHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		datasetHandler:  datasetHandler,
		analysisHandler: analysisHandler,
		healthHandler:   healthHandler,
		cfg:             cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(r.cfg.CORS))
	// multipart 超出部分写入临时文件
	engine.MaxMultipartMemory = 8 << 20

	api := engine.Group("/api/v1")
	{
		api.GET("/health", r.healthHandler.Health)

		// 数据集
		datasets := api.Group("/datasets")
		{
			datasets.POST("", r.datasetHandler.Upload)
			datasets.GET("", r.datasetHandler.List)
			datasets.GET("/:id", r.datasetHandler.Get)
			datasets.POST("/:id/analyze", r.analysisHandler.Start)
			datasets.GET("/:id/analyses", r.analysisHandler.ListByDataset)
			datasets.POST("/:id/text-to-sql", r.datasetHandler.TextToSQL)
		}

		// 分析
		api.GET("/analyses/:id", r.analysisHandler.Get)
	}

	return engine
}
