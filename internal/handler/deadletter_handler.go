package handler

import (
	"errors"
	"strconv"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/gin-gonic/gin"
)

// DeadLetterHandler 死信管理处理器
type DeadLetterHandler struct {
	deadLetters *service.DeadLetterService
}

// NewDeadLetterHandler 创建死信处理器
func NewDeadLetterHandler(deadLetters *service.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{deadLetters: deadLetters}
}

// List 分页查询死信
// GET /api/v1/dead-letters?job_type=&status=&page=&page_size=
func (h *DeadLetterHandler) List(c *gin.Context) {
	filter := &repository.DeadLetterFilter{
		JobType: c.Query("job_type"),
		Status:  model.DeadLetterStatus(c.Query("status")),
	}

	page := &repository.Pagination{Page: 1, PageSize: 20}
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page.Page = p
	}
	if ps, err := strconv.Atoi(c.Query("page_size")); err == nil && ps > 0 && ps <= 100 {
		page.PageSize = ps
	}

	entries, err := h.deadLetters.List(c.Request.Context(), filter, page)
	if err != nil {
		InternalError(c, "failed to list dead letters")
		return
	}

	SuccessPaged(c, entries, page.Page, page.PageSize, page.Total)
}

// Get 查询单条死信
// GET /api/v1/dead-letters/:id
func (h *DeadLetterHandler) Get(c *gin.Context) {
	entry, err := h.deadLetters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrDeadLetterNotFound) {
			NotFound(c, "dead letter entry not found")
			return
		}
		InternalError(c, "failed to load dead letter entry")
		return
	}

	Success(c, entry)
}

// Discard 丢弃死信
// POST /api/v1/dead-letters/:id/discard
func (h *DeadLetterHandler) Discard(c *gin.Context) {
	id := c.Param("id")

	if err := h.deadLetters.Discard(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrDeadLetterNotFound) {
			NotFound(c, "dead letter entry not found")
			return
		}
		InternalError(c, "failed to discard dead letter entry")
		return
	}

	Success(c, gin.H{"id": id, "status": model.DeadLetterStatusDiscarded})
}

// Reprocess 重放死信
// POST /api/v1/dead-letters/:id/reprocess
func (h *DeadLetterHandler) Reprocess(c *gin.Context) {
	id := c.Param("id")

	if err := h.deadLetters.Reprocess(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrDeadLetterNotFound):
			NotFound(c, "dead letter entry not found")
		case errors.Is(err, service.ErrDeadLetterTerminal):
			Conflict(c, "dead letter entry already discarded")
		case errors.Is(err, service.ErrNoReprocessHandler):
			Conflict(c, "no reprocess handler for this job type")
		default:
			InternalError(c, "reprocess failed: "+err.Error())
		}
		return
	}

	Success(c, gin.H{"id": id})
}

// Metrics 死信统计
// GET /api/v1/dead-letters/metrics
func (h *DeadLetterHandler) Metrics(c *gin.Context) {
	m, err := h.deadLetters.Metrics(c.Request.Context())
	if err != nil {
		InternalError(c, "failed to compute dead letter metrics")
		return
	}

	Success(c, m)
}
