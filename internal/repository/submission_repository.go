package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"gorm.io/gorm"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrDuplicateSubmission 幂等键已存在 (并发写入时由唯一索引兜底)
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// SubmissionRepository 验证提交仓储接口
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.ValidationSubmission) error
	GetByIdempotencyKey(ctx context.Context, key string) (*model.ValidationSubmission, error)
	GetByID(ctx context.Context, id string) (*model.ValidationSubmission, error)
	ListByMilestone(ctx context.Context, milestoneID string) ([]*model.ValidationSubmission, error)
}

// submissionRepository 验证提交仓储实现
type submissionRepository struct {
	*Repository
}

// NewSubmissionRepository 创建验证提交仓储
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{
		Repository: NewRepository(db),
	}
}

func (r *submissionRepository) Create(ctx context.Context, submission *model.ValidationSubmission) error {
	if submission.CreatedAt == 0 {
		submission.CreatedAt = time.Now().UnixMilli()
	}
	err := r.DB(ctx).Create(submission).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateSubmission
	}
	return err
}

func (r *submissionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.ValidationSubmission, error) {
	var submission model.ValidationSubmission
	err := r.DB(ctx).Where("idempotency_key = ?", key).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*model.ValidationSubmission, error) {
	var submission model.ValidationSubmission
	err := r.DB(ctx).Where("id = ?", id).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]*model.ValidationSubmission, error) {
	var submissions []*model.ValidationSubmission
	err := r.DB(ctx).
		Where("milestone_id = ?", milestoneID).
		Order("created_at ASC").
		Find(&submissions).Error
	return submissions, err
}
