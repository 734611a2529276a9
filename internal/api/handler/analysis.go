package handler

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_data_server/internal/pkg/response"
	"github.com/qs3c/anal_data_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Start 启动数据集分析
// POST /api/v1/datasets/:id/analyze
func (h *AnalysisHandler) Start(c *gin.Context) {
	datasetID, ok := paramID(c, "无效的数据集ID")
	if !ok {
		return
	}

	resp, err := h.analysisService.StartAnalysis(c.Request.Context(), datasetID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDatasetNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrAnalysisBusy):
			response.DuplicateError(c, err.Error())
		default:
			log.Printf("Dataset %d: start analysis failed: %v", datasetID, err)
			response.ServerError(c, "")
		}
		return
	}

	message := "已提交分析"
	if resp.Reused {
		message = "分析已在进行中"
	}
	response.SuccessWithMessage(c, message, resp)
}

// ListByDataset 获取数据集的分析历史
// GET /api/v1/datasets/:id/analyses
func (h *AnalysisHandler) ListByDataset(c *gin.Context) {
	datasetID, ok := paramID(c, "无效的数据集ID")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	items, total, err := h.analysisService.ListByDataset(c.Request.Context(), datasetID, page, pageSize)
	if err != nil {
		if errors.Is(err, service.ErrDatasetNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取分析详情
// GET /api/v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	analysisID, ok := paramID(c, "无效的分析ID")
	if !ok {
		return
	}

	detail, err := h.analysisService.GetAnalysis(c.Request.Context(), analysisID)
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		log.Printf("Analysis %d: load failed: %v", analysisID, err)
		response.ServerError(c, "")
		return
	}

	response.Success(c, detail)
}
