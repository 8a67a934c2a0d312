package service

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/kafka"
	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrMilestoneNotPending 里程碑已到终态，不接受分配
	ErrMilestoneNotPending = errors.New("milestone not pending")
	// ErrVerifierInactive 已停用的验证人不可分配
	ErrVerifierInactive = errors.New("verifier inactive")
)

// ApprovalService 审批聚合服务
//
// 每次裁决落库后重新聚合，状态迁移确定且与裁决到达顺序无关。
// 终态只写一次，由仓储层的条件更新保证。
type ApprovalService struct {
	milestoneRepo repository.MilestoneRepository
	publisher     kafka.EventPublisher
}

// NewApprovalService 创建审批聚合服务
func NewApprovalService(milestoneRepo repository.MilestoneRepository, publisher kafka.EventPublisher) *ApprovalService {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return &ApprovalService{
		milestoneRepo: milestoneRepo,
		publisher:     publisher,
	}
}

// Evaluate 重新聚合里程碑审批状态
//
// 顺序: 先查到期 (到期优先于任何裁决统计)，再按策略统计活跃验证人的
// 裁决。终态里程碑为静默 no-op。
func (s *ApprovalService) Evaluate(ctx context.Context, milestoneID string) error {
	milestone, err := s.milestoneRepo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}

	if milestone.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UnixMilli()
	if milestone.Deadline > 0 && milestone.Deadline < now {
		return s.transition(ctx, milestone, model.MilestoneStatusExpired)
	}

	target, err := s.aggregate(ctx, milestone)
	if err != nil {
		return err
	}
	if target == model.MilestoneStatusPending {
		return nil
	}

	return s.transition(ctx, milestone, target)
}

// aggregate 按策略统计活跃验证人的裁决
func (s *ApprovalService) aggregate(ctx context.Context, milestone *model.Milestone) (model.MilestoneStatus, error) {
	assignments, err := s.milestoneRepo.ListAssignments(ctx, milestone.MilestoneID)
	if err != nil {
		return model.MilestoneStatusPending, err
	}

	activeIDs, err := s.milestoneRepo.ListActiveVerifierIDs(ctx)
	if err != nil {
		return model.MilestoneStatusPending, err
	}
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	// 停用的验证人不计入 N，其已落裁决也不再参与统计
	total, approvals, rejections := 0, 0, 0
	for _, a := range assignments {
		if !active[a.VerifierID] {
			continue
		}
		total++
		switch a.Decision {
		case model.VerifierDecisionApproved:
			approvals++
		case model.VerifierDecisionRejected:
			rejections++
		}
	}

	if total == 0 {
		return model.MilestoneStatusPending, nil
	}

	switch milestone.ApprovalPolicy {
	case model.ApprovalPolicyAll:
		if rejections > 0 {
			return model.MilestoneStatusRejected, nil
		}
		if approvals == total {
			return model.MilestoneStatusApproved, nil
		}
	case model.ApprovalPolicyMajority:
		// 严格过半；平票保持 pending 直到截止
		if approvals*2 > total {
			return model.MilestoneStatusApproved, nil
		}
		if rejections*2 > total {
			return model.MilestoneStatusRejected, nil
		}
	}

	return model.MilestoneStatusPending, nil
}

// transition 迁移里程碑状态并发布通知
func (s *ApprovalService) transition(ctx context.Context, milestone *model.Milestone, status model.MilestoneStatus) error {
	err := s.milestoneRepo.UpdateStatusIfPending(ctx, milestone.MilestoneID, status)
	if errors.Is(err, repository.ErrMilestoneTerminal) {
		// 并发评估已先到终态
		return nil
	}
	if err != nil {
		return err
	}

	metrics.RecordMilestoneTransition(string(status))
	logger.Info("milestone status changed",
		zap.String("milestone_id", milestone.MilestoneID),
		zap.String("vault_id", milestone.VaultID),
		zap.String("status", string(status)),
		zap.String("policy", string(milestone.ApprovalPolicy)))

	msg := &kafka.MilestoneStatusMessage{
		MilestoneID: milestone.MilestoneID,
		VaultID:     milestone.VaultID,
		Status:      status,
		Policy:      milestone.ApprovalPolicy,
		ChangedAt:   time.Now().UnixMilli(),
	}
	if err := s.publisher.PublishMilestoneStatusChanged(ctx, msg); err != nil {
		// 通知失败不回滚状态迁移
		logger.Error("failed to publish milestone status change",
			zap.String("milestone_id", milestone.MilestoneID),
			zap.Error(err))
	}

	return nil
}

// AssignVerifiers 为里程碑分配验证人
//
// 重复分配静默跳过；返回实际新建的分配数。
func (s *ApprovalService) AssignVerifiers(ctx context.Context, milestoneID string, verifierIDs []string) (int, error) {
	milestone, err := s.milestoneRepo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return 0, err
	}
	if milestone.Status.IsTerminal() {
		return 0, ErrMilestoneNotPending
	}

	created := 0
	for _, verifierID := range verifierIDs {
		verifier, err := s.milestoneRepo.GetVerifier(ctx, verifierID)
		if err != nil {
			return created, err
		}
		if !verifier.Active {
			return created, ErrVerifierInactive
		}

		err = s.milestoneRepo.CreateAssignment(ctx, &model.MilestoneVerifierAssignment{
			MilestoneID: milestoneID,
			VerifierID:  verifierID,
			Decision:    model.VerifierDecisionPending,
		})
		if errors.Is(err, repository.ErrDuplicateAssignment) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	logger.Info("verifiers assigned",
		zap.String("milestone_id", milestoneID),
		zap.Int("created", created),
		zap.Int("requested", len(verifierIDs)))

	return created, nil
}

// RegisterVerifier 注册验证人
func (s *ApprovalService) RegisterVerifier(ctx context.Context, verifierID string) error {
	return s.milestoneRepo.CreateVerifier(ctx, &model.Verifier{
		VerifierID: verifierID,
		Active:     true,
	})
}

// DeactivateVerifier 停用验证人
//
// 停用后重新评估其参与的全部非终态里程碑: 剔除该验证人可能让剩余
// 裁决立即满足策略。已到终态的里程碑不受影响。
func (s *ApprovalService) DeactivateVerifier(ctx context.Context, verifierID string) error {
	if err := s.milestoneRepo.SetVerifierActive(ctx, verifierID, false); err != nil {
		return err
	}

	milestoneIDs, err := s.milestoneRepo.ListMilestoneIDsByVerifier(ctx, verifierID)
	if err != nil {
		return err
	}

	for _, milestoneID := range milestoneIDs {
		if err := s.Evaluate(ctx, milestoneID); err != nil {
			logger.Error("re-evaluation after deactivation failed",
				zap.String("milestone_id", milestoneID),
				zap.String("verifier_id", verifierID),
				zap.Error(err))
		}
	}

	logger.Info("verifier deactivated",
		zap.String("verifier_id", verifierID),
		zap.Int("milestones_reevaluated", len(milestoneIDs)))

	return nil
}

// DeadlineSweep 到期扫描
//
// 将截止时间已过且仍 pending 的里程碑迁移到 expired，返回迁移数量。
func (s *ApprovalService) DeadlineSweep(ctx context.Context, limit int) (int, error) {
	start := time.Now()
	now := start.UnixMilli()

	milestones, err := s.milestoneRepo.ListPendingPastDeadline(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, milestone := range milestones {
		if err := s.transition(ctx, milestone, model.MilestoneStatusExpired); err != nil {
			logger.Error("failed to expire milestone",
				zap.String("milestone_id", milestone.MilestoneID),
				zap.Error(err))
			continue
		}
		expired++
	}

	metrics.DeadlineSweepDuration.Observe(time.Since(start).Seconds())
	if expired > 0 {
		logger.Info("deadline sweep completed",
			zap.Int("expired", expired),
			zap.Int("scanned", len(milestones)))
	}

	return expired, nil
}
