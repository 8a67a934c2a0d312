package handler

import (
	"errors"

	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/gin-gonic/gin"
)

// MilestoneHandler 里程碑与验证人管理处理器
type MilestoneHandler struct {
	approval      *service.ApprovalService
	vaults        *service.VaultService
	milestoneRepo repository.MilestoneRepository
}

// NewMilestoneHandler 创建里程碑处理器
func NewMilestoneHandler(
	approval *service.ApprovalService,
	vaults *service.VaultService,
	milestoneRepo repository.MilestoneRepository,
) *MilestoneHandler {
	return &MilestoneHandler{
		approval:      approval,
		vaults:        vaults,
		milestoneRepo: milestoneRepo,
	}
}

// GetMilestone 查询里程碑状态
// GET /api/v1/milestones/:id
func (h *MilestoneHandler) GetMilestone(c *gin.Context) {
	milestoneID := c.Param("id")

	milestone, err := h.milestoneRepo.GetMilestone(c.Request.Context(), milestoneID)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			NotFound(c, "milestone not found")
			return
		}
		InternalError(c, "failed to load milestone")
		return
	}

	assignments, err := h.milestoneRepo.ListAssignments(c.Request.Context(), milestoneID)
	if err != nil {
		InternalError(c, "failed to load assignments")
		return
	}

	Success(c, gin.H{
		"milestone":   milestone,
		"assignments": assignments,
	})
}

// GetVault 查询资金库
// GET /api/v1/vaults/:id
func (h *MilestoneHandler) GetVault(c *gin.Context) {
	vaultID := c.Param("id")

	vault, err := h.vaults.GetVault(c.Request.Context(), vaultID)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			NotFound(c, "vault not found")
			return
		}
		InternalError(c, "failed to load vault")
		return
	}

	Success(c, vault)
}

// assignVerifiersBody 分配请求体
type assignVerifiersBody struct {
	VerifierIDs []string `json:"verifier_ids" binding:"required,min=1"`
}

// AssignVerifiers 为里程碑分配验证人
// POST /api/v1/milestones/:id/verifiers
func (h *MilestoneHandler) AssignVerifiers(c *gin.Context) {
	milestoneID := c.Param("id")

	var body assignVerifiersBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, err.Error())
		return
	}

	created, err := h.approval.AssignVerifiers(c.Request.Context(), milestoneID, body.VerifierIDs)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMilestoneNotFound):
			NotFound(c, "milestone not found")
		case errors.Is(err, repository.ErrVerifierNotFound):
			NotFound(c, "verifier not found")
		case errors.Is(err, service.ErrMilestoneNotPending):
			Conflict(c, "milestone already terminal")
		case errors.Is(err, service.ErrVerifierInactive):
			Conflict(c, "verifier is inactive")
		default:
			InternalError(c, "failed to assign verifiers")
		}
		return
	}

	Success(c, gin.H{"created": created})
}

// registerVerifierBody 注册请求体
type registerVerifierBody struct {
	VerifierID string `json:"verifier_id" binding:"required"`
}

// RegisterVerifier 注册验证人
// POST /api/v1/verifiers
func (h *MilestoneHandler) RegisterVerifier(c *gin.Context) {
	var body registerVerifierBody
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.approval.RegisterVerifier(c.Request.Context(), body.VerifierID); err != nil {
		InternalError(c, "failed to register verifier")
		return
	}

	Success(c, gin.H{"verifier_id": body.VerifierID})
}

// DeactivateVerifier 停用验证人
// POST /api/v1/verifiers/:id/deactivate
func (h *MilestoneHandler) DeactivateVerifier(c *gin.Context) {
	verifierID := c.Param("id")

	if err := h.approval.DeactivateVerifier(c.Request.Context(), verifierID); err != nil {
		if errors.Is(err, repository.ErrVerifierNotFound) {
			NotFound(c, "verifier not found")
			return
		}
		InternalError(c, "failed to deactivate verifier")
		return
	}

	Success(c, gin.H{"verifier_id": verifierID, "active": false})
}
