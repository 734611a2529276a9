package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_data_server/internal/model/dto"
	"github.com/qs3c/anal_data_server/internal/pkg/response"
	"github.com/qs3c/anal_data_server/internal/service"
)

type DatasetHandler struct {
	datasetService  *service.DatasetService
	questionService *service.QuestionService
}

func NewDatasetHandler(datasetService *service.DatasetService, questionService *service.QuestionService) *DatasetHandler {
	return &DatasetHandler{
		datasetService:  datasetService,
		questionService: questionService,
	}
}

// Upload 上传数据集
// POST /api/v1/datasets
func (h *DatasetHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ParamError(c, "请上传文件")
		return
	}
	defer file.Close()

	info, err := h.datasetService.Upload(c.Request.Context(), header.Filename, file, header.Size)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFormat), errors.Is(err, service.ErrFileTooLarge):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrInvalidDataset):
			response.InvalidDataError(c, err.Error())
		default:
			log.Printf("Upload dataset %s failed: %v", header.Filename, err)
			response.ServerError(c, "文件保存失败")
		}
		return
	}

	response.SuccessWithMessage(c, "上传成功", info)
}

// List 获取数据集列表
// GET /api/v1/datasets
func (h *DatasetHandler) List(c *gin.Context) {
	page, pageSize := pagination(c)

	items, total, err := h.datasetService.List(page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取数据集详情
// GET /api/v1/datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	datasetID, ok := paramID(c, "无效的数据集ID")
	if !ok {
		return
	}

	info, err := h.datasetService.Get(datasetID)
	if err != nil {
		if errors.Is(err, service.ErrDatasetNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, info)
}

// TextToSQL 把自然语言问题翻译为 SQL
// POST /api/v1/datasets/:id/text-to-sql
func (h *DatasetHandler) TextToSQL(c *gin.Context) {
	datasetID, ok := paramID(c, "无效的数据集ID")
	if !ok {
		return
	}

	var req dto.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	answer, err := h.questionService.AskQuestion(c.Request.Context(), datasetID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyQuestion):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrDatasetNotFound):
			response.NotFoundError(c, err.Error())
		default:
			log.Printf("Dataset %d: translate %q failed: %v", datasetID, req.Question, err)
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, answer)
}

// paramID 解析路径中的 id，失败时直接写入参数错误
func paramID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, message)
		return 0, false
	}
	return id, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
