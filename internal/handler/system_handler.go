package handler

import (
	"net/http"

	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemHandler 健康检查与运行状态处理器
type SystemHandler struct {
	ingest *service.IngestService
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(ingest *service.IngestService) *SystemHandler {
	return &SystemHandler{ingest: ingest}
}

// Health 健康检查
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fundvault-chain",
	})
}

// IngestStatus 摄取状态
// GET /api/v1/ingest/status
func (h *SystemHandler) IngestStatus(c *gin.Context) {
	Success(c, h.ingest.Status())
}

// PrometheusHandler /metrics 端点
func PrometheusHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
