package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"gorm.io/gorm"
)

var (
	ErrCursorNotFound = errors.New("cursor not found")
	// ErrCursorRegression 游标回退，说明存储状态已损坏，禁止自动修正
	ErrCursorRegression = errors.New("cursor regression detected")
)

// CursorRepository 账本游标仓储接口
type CursorRepository interface {
	GetByService(ctx context.Context, serviceName string) (*model.LedgerCursor, error)
	Advance(ctx context.Context, serviceName string, newPosition uint64) error
}

// cursorRepository 账本游标仓储实现
type cursorRepository struct {
	*Repository
}

// NewCursorRepository 创建账本游标仓储
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{
		Repository: NewRepository(db),
	}
}

func (r *cursorRepository) GetByService(ctx context.Context, serviceName string) (*model.LedgerCursor, error) {
	var cursor model.LedgerCursor
	err := r.DB(ctx).Where("service_name = ?", serviceName).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Advance 推进游标
//
// 仅允许单调前进；目标位置低于已存位置时返回 ErrCursorRegression，
// 静默回退会导致整段事件重投。
func (r *cursorRepository) Advance(ctx context.Context, serviceName string, newPosition uint64) error {
	now := time.Now().UnixMilli()

	result := r.DB(ctx).Model(&model.LedgerCursor{}).
		Where("service_name = ? AND last_position <= ?", serviceName, int64(newPosition)).
		Updates(map[string]interface{}{
			"last_position":     int64(newPosition),
			"last_processed_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 没有可更新的行: 要么游标不存在 (首次处理)，要么目标位置更低 (回退)
	existing, err := r.GetByService(ctx, serviceName)
	if err == nil {
		if existing.LastPosition > int64(newPosition) {
			return ErrCursorRegression
		}
		return nil
	}
	if !errors.Is(err, ErrCursorNotFound) {
		return err
	}

	cursor := &model.LedgerCursor{
		ServiceName:     serviceName,
		LastPosition:    int64(newPosition),
		LastProcessedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return r.DB(ctx).Create(cursor).Error
}
