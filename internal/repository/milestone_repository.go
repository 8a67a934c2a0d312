package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"gorm.io/gorm"
)

var (
	ErrMilestoneNotFound  = errors.New("milestone not found")
	ErrVerifierNotFound   = errors.New("verifier not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrDuplicateAssignment 同一 (milestone, verifier) 重复分配
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	// ErrAlreadyDecided 裁决只允许从 pending 迁移一次
	ErrAlreadyDecided = errors.New("assignment already decided")
	// ErrMilestoneTerminal 里程碑已到终态，状态不可再变化
	ErrMilestoneTerminal = errors.New("milestone already terminal")
)

// MilestoneRepository 里程碑仓储接口
type MilestoneRepository interface {
	CreateMilestone(ctx context.Context, milestone *model.Milestone) error
	GetMilestone(ctx context.Context, milestoneID string) (*model.Milestone, error)
	// UpdateStatusIfPending 条件更新: 仅当当前状态仍为 pending 时迁移，
	// 终态里程碑不受影响并返回 ErrMilestoneTerminal
	UpdateStatusIfPending(ctx context.Context, milestoneID string, status model.MilestoneStatus) error
	MarkReleased(ctx context.Context, milestoneID string, releasedAt int64) error
	ListPendingPastDeadline(ctx context.Context, now int64, limit int) ([]*model.Milestone, error)

	CreateVerifier(ctx context.Context, verifier *model.Verifier) error
	GetVerifier(ctx context.Context, verifierID string) (*model.Verifier, error)
	SetVerifierActive(ctx context.Context, verifierID string, active bool) error
	ListActiveVerifierIDs(ctx context.Context) ([]string, error)

	CreateAssignment(ctx context.Context, assignment *model.MilestoneVerifierAssignment) error
	GetAssignment(ctx context.Context, milestoneID, verifierID string) (*model.MilestoneVerifierAssignment, error)
	ListAssignments(ctx context.Context, milestoneID string) ([]*model.MilestoneVerifierAssignment, error)
	ListMilestoneIDsByVerifier(ctx context.Context, verifierID string) ([]string, error)
	// MarkDecided 裁决迁移 pending → approved/rejected，重复裁决返回 ErrAlreadyDecided
	MarkDecided(ctx context.Context, milestoneID, verifierID string, decision model.VerifierDecision) error
}

// milestoneRepository 里程碑仓储实现
type milestoneRepository struct {
	*Repository
}

// NewMilestoneRepository 创建里程碑仓储
func NewMilestoneRepository(db *gorm.DB) MilestoneRepository {
	return &milestoneRepository{
		Repository: NewRepository(db),
	}
}

func (r *milestoneRepository) CreateMilestone(ctx context.Context, milestone *model.Milestone) error {
	now := time.Now().UnixMilli()
	milestone.CreatedAt = now
	milestone.UpdatedAt = now
	if milestone.Status == "" {
		milestone.Status = model.MilestoneStatusPending
	}
	return r.DB(ctx).Create(milestone).Error
}

func (r *milestoneRepository) GetMilestone(ctx context.Context, milestoneID string) (*model.Milestone, error) {
	var milestone model.Milestone
	err := r.DB(ctx).Where("milestone_id = ?", milestoneID).First(&milestone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMilestoneNotFound
	}
	if err != nil {
		return nil, err
	}
	return &milestone, nil
}

func (r *milestoneRepository) UpdateStatusIfPending(ctx context.Context, milestoneID string, status model.MilestoneStatus) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.Milestone{}).
		Where("milestone_id = ? AND status = ?", milestoneID, model.MilestoneStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetMilestone(ctx, milestoneID); err != nil {
			return err
		}
		return ErrMilestoneTerminal
	}
	return nil
}

func (r *milestoneRepository) MarkReleased(ctx context.Context, milestoneID string, releasedAt int64) error {
	result := r.DB(ctx).Model(&model.Milestone{}).
		Where("milestone_id = ?", milestoneID).
		Updates(map[string]interface{}{
			"released_at": releasedAt,
			"updated_at":  time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

func (r *milestoneRepository) ListPendingPastDeadline(ctx context.Context, now int64, limit int) ([]*model.Milestone, error) {
	var milestones []*model.Milestone
	err := r.DB(ctx).
		Where("status = ? AND deadline > 0 AND deadline < ?", model.MilestoneStatusPending, now).
		Order("deadline ASC").
		Limit(limit).
		Find(&milestones).Error
	return milestones, err
}

func (r *milestoneRepository) CreateVerifier(ctx context.Context, verifier *model.Verifier) error {
	now := time.Now().UnixMilli()
	verifier.CreatedAt = now
	verifier.UpdatedAt = now
	return r.DB(ctx).Create(verifier).Error
}

func (r *milestoneRepository) GetVerifier(ctx context.Context, verifierID string) (*model.Verifier, error) {
	var verifier model.Verifier
	err := r.DB(ctx).Where("verifier_id = ?", verifierID).First(&verifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerifierNotFound
	}
	if err != nil {
		return nil, err
	}
	return &verifier, nil
}

func (r *milestoneRepository) SetVerifierActive(ctx context.Context, verifierID string, active bool) error {
	result := r.DB(ctx).Model(&model.Verifier{}).
		Where("verifier_id = ?", verifierID).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVerifierNotFound
	}
	return nil
}

func (r *milestoneRepository) ListActiveVerifierIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.DB(ctx).Model(&model.Verifier{}).
		Where("active = ?", true).
		Pluck("verifier_id", &ids).Error
	return ids, err
}

func (r *milestoneRepository) CreateAssignment(ctx context.Context, assignment *model.MilestoneVerifierAssignment) error {
	now := time.Now().UnixMilli()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	if assignment.Decision == "" {
		assignment.Decision = model.VerifierDecisionPending
	}
	err := r.DB(ctx).Create(assignment).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateAssignment
	}
	return err
}

func (r *milestoneRepository) GetAssignment(ctx context.Context, milestoneID, verifierID string) (*model.MilestoneVerifierAssignment, error) {
	var assignment model.MilestoneVerifierAssignment
	err := r.DB(ctx).
		Where("milestone_id = ? AND verifier_id = ?", milestoneID, verifierID).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *milestoneRepository) ListAssignments(ctx context.Context, milestoneID string) ([]*model.MilestoneVerifierAssignment, error) {
	var assignments []*model.MilestoneVerifierAssignment
	err := r.DB(ctx).
		Where("milestone_id = ?", milestoneID).
		Order("verifier_id ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *milestoneRepository) ListMilestoneIDsByVerifier(ctx context.Context, verifierID string) ([]string, error) {
	var ids []string
	err := r.DB(ctx).Model(&model.MilestoneVerifierAssignment{}).
		Where("verifier_id = ?", verifierID).
		Pluck("milestone_id", &ids).Error
	return ids, err
}

func (r *milestoneRepository) MarkDecided(ctx context.Context, milestoneID, verifierID string, decision model.VerifierDecision) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.MilestoneVerifierAssignment{}).
		Where("milestone_id = ? AND verifier_id = ? AND decision = ?",
			milestoneID, verifierID, model.VerifierDecisionPending).
		Updates(map[string]interface{}{
			"decision":   decision,
			"decided_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetAssignment(ctx, milestoneID, verifierID); err != nil {
			return err
		}
		return ErrAlreadyDecided
	}
	return nil
}
