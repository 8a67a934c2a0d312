package service

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrDeadLetterTerminal 已丢弃的死信不可再操作
	ErrDeadLetterTerminal = errors.New("dead letter entry already discarded")
	// ErrNoReprocessHandler 该 job_type 未注册重放处理器
	ErrNoReprocessHandler = errors.New("no reprocess handler registered for job type")
)

// ReprocessHandler 死信重放处理器
type ReprocessHandler func(ctx context.Context, payload string) error

// DeadLetterService 死信管理服务
//
// 死信记录从不自动清除；丢弃与重放均为人工触发的运维操作。
type DeadLetterService struct {
	deadLetterRepo repository.DeadLetterRepository

	handlers map[string]ReprocessHandler
}

// NewDeadLetterService 创建死信管理服务
func NewDeadLetterService(deadLetterRepo repository.DeadLetterRepository) *DeadLetterService {
	return &DeadLetterService{
		deadLetterRepo: deadLetterRepo,
		handlers:       make(map[string]ReprocessHandler),
	}
}

// RegisterReprocessHandler 注册某 job_type 的重放处理器
func (s *DeadLetterService) RegisterReprocessHandler(jobType string, handler ReprocessHandler) {
	s.handlers[jobType] = handler
}

// Get 查询单条死信
func (s *DeadLetterService) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	return s.deadLetterRepo.GetByID(ctx, id)
}

// List 按条件分页查询死信
func (s *DeadLetterService) List(ctx context.Context, filter *repository.DeadLetterFilter, page *repository.Pagination) ([]*model.DeadLetterEntry, error) {
	return s.deadLetterRepo.List(ctx, filter, page)
}

// Discard 丢弃死信
//
// 幂等: 重复丢弃直接成功，不改写首次丢弃的 resolved_at。
func (s *DeadLetterService) Discard(ctx context.Context, id string) error {
	entry, err := s.deadLetterRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if entry.Status == model.DeadLetterStatusDiscarded {
		return nil
	}

	now := time.Now().UnixMilli()
	if err := s.deadLetterRepo.UpdateStatus(ctx, id, model.DeadLetterStatusDiscarded, &now); err != nil {
		return err
	}

	logger.Info("dead letter discarded",
		zap.String("entry_id", id),
		zap.String("job_type", entry.JobType))

	return nil
}

// Reprocess 重放死信
//
// 成功后记录转为 discarded 并写入 resolved_at，失败时恢复为 pending。
func (s *DeadLetterService) Reprocess(ctx context.Context, id string) error {
	entry, err := s.deadLetterRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if entry.IsTerminal() {
		return ErrDeadLetterTerminal
	}

	handler, ok := s.handlers[entry.JobType]
	if !ok {
		return ErrNoReprocessHandler
	}

	if err := s.deadLetterRepo.UpdateStatus(ctx, id, model.DeadLetterStatusReprocessing, nil); err != nil {
		return err
	}

	if err := handler(ctx, entry.Payload); err != nil {
		logger.Error("dead letter reprocess failed",
			zap.String("entry_id", id),
			zap.String("job_type", entry.JobType),
			zap.Error(err))

		if updateErr := s.deadLetterRepo.UpdateStatus(ctx, id, model.DeadLetterStatusPending, nil); updateErr != nil {
			logger.Error("failed to restore dead letter status",
				zap.String("entry_id", id),
				zap.Error(updateErr))
		}
		return err
	}

	now := time.Now().UnixMilli()
	if err := s.deadLetterRepo.UpdateStatus(ctx, id, model.DeadLetterStatusDiscarded, &now); err != nil {
		return err
	}

	logger.Info("dead letter reprocessed",
		zap.String("entry_id", id),
		zap.String("job_type", entry.JobType))

	return nil
}

// Metrics 死信统计快照
func (s *DeadLetterService) Metrics(ctx context.Context) (*repository.DeadLetterMetrics, error) {
	m, err := s.deadLetterRepo.Metrics(ctx)
	if err != nil {
		return nil, err
	}

	metrics.DeadLettersPendingGauge.Set(float64(m.Pending))
	return m, nil
}
