// Package handler 提供 HTTP API
package handler

import (
	"errors"
	"net/http"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey 幂等键请求头
const HeaderIdempotencyKey = "Idempotency-Key"

// ValidationHandler 验证提交处理器
type ValidationHandler struct {
	submissions *service.SubmissionService
}

// NewValidationHandler 创建验证提交处理器
func NewValidationHandler(submissions *service.SubmissionService) *ValidationHandler {
	return &ValidationHandler{submissions: submissions}
}

// submitValidationBody 提交请求体
//
// evidence.data 为 base64 编码的证据本体，摘要与尺寸由服务端推导。
type submitValidationBody struct {
	VaultID     string                  `json:"vault_id" binding:"required"`
	MilestoneID string                  `json:"milestone_id" binding:"required"`
	VerifierID  string                  `json:"verifier_id" binding:"required"`
	Verdict     string                  `json:"verdict" binding:"required"`
	Reason      string                  `json:"reason"`
	Evidence    service.EvidencePayload `json:"evidence" binding:"required"`
}

// Submit 提交验证结果
// POST /api/v1/validations
func (h *ValidationHandler) Submit(c *gin.Context) {
	idempotencyKey := c.GetHeader(HeaderIdempotencyKey)

	var body submitValidationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, err.Error())
		return
	}

	req := &service.SubmitValidationRequest{
		VaultID:     body.VaultID,
		MilestoneID: body.MilestoneID,
		Verdict:     model.SubmissionVerdict(body.Verdict),
		Reason:      body.Reason,
		Evidence:    body.Evidence,
	}

	record, replayed, err := h.submissions.Submit(c.Request.Context(), idempotencyKey, req, body.VerifierID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdempotencyKeyRequired):
			BadRequest(c, "Idempotency-Key header is required")
		case errors.Is(err, service.ErrIdempotencyConflict):
			Conflict(c, "idempotency key already used with a different payload")
		case errors.Is(err, service.ErrInvalidSubmission):
			BadRequest(c, err.Error())
		default:
			InternalError(c, "failed to record submission")
		}
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	c.JSON(status, Response{
		Code:    0,
		Message: "success",
		Data: gin.H{
			"submission": record,
			"replayed":   replayed,
		},
	})
}

// Get 查询单条提交
// GET /api/v1/validations/:id
func (h *ValidationHandler) Get(c *gin.Context) {
	id := c.Param("id")

	record, err := h.submissions.GetSubmission(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			NotFound(c, "submission not found")
			return
		}
		InternalError(c, "failed to load submission")
		return
	}

	Success(c, record)
}

// ListByMilestone 查询里程碑下的提交
// GET /api/v1/milestones/:id/validations
func (h *ValidationHandler) ListByMilestone(c *gin.Context) {
	milestoneID := c.Param("id")

	records, err := h.submissions.ListByMilestone(c.Request.Context(), milestoneID)
	if err != nil {
		InternalError(c, "failed to list submissions")
		return
	}

	Success(c, records)
}
