package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateEvent 事件已处理过，属正常的重投去重信号而非故障
	ErrDuplicateEvent = errors.New("duplicate event")
)

// EventRepository 已处理事件仓储接口
type EventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, txHash string, eventIndex int, ledgerPosition uint64) error
	ListByPositionRange(ctx context.Context, startPosition, endPosition uint64) ([]*model.ProcessedEvent, error)
}

// eventRepository 已处理事件仓储实现
type eventRepository struct {
	*Repository
}

// NewEventRepository 创建已处理事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{
		Repository: NewRepository(db),
	}
}

func (r *eventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// Record 记录已处理事件
//
// event_id 唯一索引是去重的最终防线: 并发消费者或重叠的抓取窗口
// 写入同一事件时，第二次插入返回 ErrDuplicateEvent。
func (r *eventRepository) Record(ctx context.Context, eventID, txHash string, eventIndex int, ledgerPosition uint64) error {
	record := &model.ProcessedEvent{
		EventID:        eventID,
		TxHash:         txHash,
		EventIndex:     eventIndex,
		LedgerPosition: int64(ledgerPosition),
		ProcessedAt:    time.Now().UnixMilli(),
	}
	err := r.DB(ctx).Create(record).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *eventRepository) ListByPositionRange(ctx context.Context, startPosition, endPosition uint64) ([]*model.ProcessedEvent, error) {
	var events []*model.ProcessedEvent
	err := r.DB(ctx).
		Where("ledger_position >= ? AND ledger_position <= ?", int64(startPosition), int64(endPosition)).
		Order("ledger_position ASC, event_index ASC").
		Find(&events).Error
	return events, err
}
