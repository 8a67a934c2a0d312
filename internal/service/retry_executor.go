package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRetriesExhausted 重试耗尽，工作单元已写入死信表
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryExecutor 带退避的重试执行器
//
// 失败的工作单元按线性退避重试 (第 n 次失败后等待 baseDelay*n)，
// 全部尝试耗尽后恰好写入一条死信记录。
type RetryExecutor struct {
	deadLetterRepo repository.DeadLetterRepository

	maxAttempts int // 总尝试次数 (含首次)
	baseDelay   time.Duration
}

// RetryExecutorConfig 重试执行器配置
type RetryExecutorConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewRetryExecutor 创建重试执行器
func NewRetryExecutor(deadLetterRepo repository.DeadLetterRepository, cfg *RetryExecutorConfig) *RetryExecutor {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	return &RetryExecutor{
		deadLetterRepo: deadLetterRepo,
		maxAttempts:    maxAttempts,
		baseDelay:      baseDelay,
	}
}

// MaxAttempts 返回配置的总尝试次数
func (e *RetryExecutor) MaxAttempts() int {
	return e.maxAttempts
}

// Run 执行工作单元
//
// fn 返回 nil 即成功；所有尝试失败后将 payload 与最后一次错误写入
// 死信表并返回 (死信 ID, ErrRetriesExhausted)。ctx 取消会中断退避等待，
// 中断时不产生死信。
func (e *RetryExecutor) Run(ctx context.Context, jobType string, payload interface{}, fn func(ctx context.Context) error) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			logger.Warn("job attempt failed",
				zap.String("job_type", jobType),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.maxAttempts),
				zap.Error(err))

			if attempt == e.maxAttempts {
				break
			}

			metrics.RecordRetryAttempt(jobType)

			// 线性退避: 第 n 次失败后等待 baseDelay*n
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.baseDelay * time.Duration(attempt)):
			}
			continue
		}

		return "", nil
	}

	entryID, err := e.deadLetter(ctx, jobType, payload, lastErr)
	if err != nil {
		return "", err
	}

	return entryID, ErrRetriesExhausted
}

// deadLetter 将耗尽的工作单元写入死信表
func (e *RetryExecutor) deadLetter(ctx context.Context, jobType string, payload interface{}, cause error) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}

	entry := &model.DeadLetterEntry{
		ID:           uuid.New().String(),
		JobType:      jobType,
		Payload:      string(data),
		ErrorMessage: cause.Error(),
		RetryCount:   e.maxAttempts,
		Status:       model.DeadLetterStatusPending,
		FailedAt:     time.Now().UnixMilli(),
	}

	if err := e.deadLetterRepo.Create(ctx, entry); err != nil {
		logger.Error("failed to create dead letter entry",
			zap.String("job_type", jobType),
			zap.Error(err))
		return "", err
	}

	metrics.RecordDeadLetter(jobType)
	logger.Error("job moved to dead letter",
		zap.String("job_type", jobType),
		zap.String("entry_id", entry.ID),
		zap.Int("attempts", e.maxAttempts),
		zap.Error(cause))

	return entry.ID, nil
}
