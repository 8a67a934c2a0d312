package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

// VaultService 资金库状态维护服务
//
// 持有全部账本事件的应用处理器。除注资累加外各处理器均幂等，
// 应用与记录之间崩溃后的重放不产生副作用。
type VaultService struct {
	vaultRepo     repository.VaultRepository
	milestoneRepo repository.MilestoneRepository
}

// NewVaultService 创建资金库服务
func NewVaultService(
	vaultRepo repository.VaultRepository,
	milestoneRepo repository.MilestoneRepository,
) *VaultService {
	return &VaultService{
		vaultRepo:     vaultRepo,
		milestoneRepo: milestoneRepo,
	}
}

// RegisterHandlers 将应用处理器挂到摄取服务
func (s *VaultService) RegisterHandlers(ingest *IngestService) {
	ingest.RegisterHandler(model.LedgerEventVaultCreated, s.ApplyVaultCreated)
	ingest.RegisterHandler(model.LedgerEventVaultFunded, s.ApplyVaultFunded)
	ingest.RegisterHandler(model.LedgerEventMilestoneCreated, s.ApplyMilestoneCreated)
	ingest.RegisterHandler(model.LedgerEventMilestoneReleased, s.ApplyMilestoneReleased)
	ingest.RegisterHandler(model.LedgerEventVaultClosed, s.ApplyVaultClosed)
}

// Apply 按事件类型分发到对应处理器
//
// 供死信重放等不经过摄取循环的路径使用。
func (s *VaultService) Apply(ctx context.Context, event *model.ParsedEvent) error {
	switch event.Type {
	case model.LedgerEventVaultCreated:
		return s.ApplyVaultCreated(ctx, event)
	case model.LedgerEventVaultFunded:
		return s.ApplyVaultFunded(ctx, event)
	case model.LedgerEventMilestoneCreated:
		return s.ApplyMilestoneCreated(ctx, event)
	case model.LedgerEventMilestoneReleased:
		return s.ApplyMilestoneReleased(ctx, event)
	case model.LedgerEventVaultClosed:
		return s.ApplyVaultClosed(ctx, event)
	default:
		return fmt.Errorf("unsupported event type %q", event.Type)
	}
}

// ApplyVaultCreated 应用资金库创建事件
func (s *VaultService) ApplyVaultCreated(ctx context.Context, event *model.ParsedEvent) error {
	payload := event.VaultCreated
	if payload == nil {
		return fmt.Errorf("event %s carries no vault_created payload", event.EventID)
	}

	err := s.vaultRepo.Create(ctx, &model.Vault{
		VaultID:    payload.VaultID,
		Owner:      payload.Owner,
		GoalAmount: payload.GoalAmount,
		Status:     model.VaultStatusActive,
	})
	if errors.Is(err, repository.ErrDuplicateVault) {
		// 重放: 资金库已存在
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("vault created",
		zap.String("vault_id", payload.VaultID),
		zap.String("owner", payload.Owner),
		zap.String("goal_amount", payload.GoalAmount.String()))

	return nil
}

// ApplyVaultFunded 应用注资事件
func (s *VaultService) ApplyVaultFunded(ctx context.Context, event *model.ParsedEvent) error {
	payload := event.VaultFunded
	if payload == nil {
		return fmt.Errorf("event %s carries no vault_funded payload", event.EventID)
	}

	if err := s.vaultRepo.AddRaisedAmount(ctx, payload.VaultID, payload.Amount); err != nil {
		return err
	}

	logger.Info("vault funded",
		zap.String("vault_id", payload.VaultID),
		zap.String("funder", payload.Funder),
		zap.String("amount", payload.Amount.String()))

	return nil
}

// ApplyMilestoneCreated 应用里程碑创建事件
func (s *VaultService) ApplyMilestoneCreated(ctx context.Context, event *model.ParsedEvent) error {
	payload := event.MilestoneCreated
	if payload == nil {
		return fmt.Errorf("event %s carries no milestone_created payload", event.EventID)
	}

	policy := model.ApprovalPolicy(payload.ApprovalPolicy)
	if policy != model.ApprovalPolicyAll && policy != model.ApprovalPolicyMajority {
		policy = model.ApprovalPolicyAll
	}

	if _, err := s.milestoneRepo.GetMilestone(ctx, payload.MilestoneID); err == nil {
		// 重放: 里程碑已存在
		return nil
	} else if !errors.Is(err, repository.ErrMilestoneNotFound) {
		return err
	}

	if err := s.milestoneRepo.CreateMilestone(ctx, &model.Milestone{
		MilestoneID:    payload.MilestoneID,
		VaultID:        payload.VaultID,
		Status:         model.MilestoneStatusPending,
		ApprovalPolicy: policy,
		Deadline:       payload.Deadline,
	}); err != nil {
		return err
	}

	logger.Info("milestone created",
		zap.String("milestone_id", payload.MilestoneID),
		zap.String("vault_id", payload.VaultID),
		zap.String("policy", string(policy)),
		zap.Int64("deadline", payload.Deadline))

	return nil
}

// ApplyMilestoneReleased 应用里程碑放款事件
func (s *VaultService) ApplyMilestoneReleased(ctx context.Context, event *model.ParsedEvent) error {
	payload := event.MilestoneReleased
	if payload == nil {
		return fmt.Errorf("event %s carries no milestone_released payload", event.EventID)
	}

	milestone, err := s.milestoneRepo.GetMilestone(ctx, payload.MilestoneID)
	if err != nil {
		return err
	}
	if milestone.ReleasedAt != nil {
		// 重放: 已记录放款
		return nil
	}

	if err := s.milestoneRepo.MarkReleased(ctx, payload.MilestoneID, time.Now().UnixMilli()); err != nil {
		return err
	}

	logger.Info("milestone released",
		zap.String("milestone_id", payload.MilestoneID),
		zap.String("vault_id", payload.VaultID),
		zap.String("amount", payload.Amount.String()),
		zap.Uint64("ledger_position", event.LedgerPosition))

	return nil
}

// ApplyVaultClosed 应用资金库关闭事件
func (s *VaultService) ApplyVaultClosed(ctx context.Context, event *model.ParsedEvent) error {
	payload := event.VaultClosed
	if payload == nil {
		return fmt.Errorf("event %s carries no vault_closed payload", event.EventID)
	}

	vault, err := s.vaultRepo.GetByVaultID(ctx, payload.VaultID)
	if err != nil {
		return err
	}
	if vault.Status == model.VaultStatusClosed {
		return nil
	}

	if err := s.vaultRepo.UpdateStatus(ctx, payload.VaultID, model.VaultStatusClosed); err != nil {
		return err
	}

	logger.Info("vault closed",
		zap.String("vault_id", payload.VaultID),
		zap.String("reason", payload.Reason))

	return nil
}

// GetVault 查询资金库
func (s *VaultService) GetVault(ctx context.Context, vaultID string) (*model.Vault, error) {
	return s.vaultRepo.GetByVaultID(ctx, vaultID)
}
