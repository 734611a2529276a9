package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_data_server/internal/pkg/response"
)

// QueueStats 队列长度
type QueueStats interface {
	Length(ctx context.Context) (int64, error)
}

// Pinger 数据库连通性检查，*sql.DB 满足该接口
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	queue QueueStats
	db    Pinger
}

func NewHealthHandler(queue QueueStats, db Pinger) *HealthHandler {
	return &HealthHandler{queue: queue, db: db}
}

// Health 健康检查
// GET /api/v1/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	data := gin.H{}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			data["database"] = err.Error()
		} else {
			data["database"] = "ok"
		}
	}

	if h.queue != nil {
		n, err := h.queue.Length(ctx)
		if err != nil {
			status = "degraded"
			data["queue"] = err.Error()
		} else {
			data["queue"] = "ok"
			data["queue_length"] = n
		}
	}

	data["status"] = status
	response.Success(c, data)
}
