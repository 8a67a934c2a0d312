package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"gorm.io/gorm"
)

var (
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")
)

// DeadLetterFilter 死信查询过滤
type DeadLetterFilter struct {
	JobType string
	Status  model.DeadLetterStatus
}

// DeadLetterMetrics 死信统计快照
type DeadLetterMetrics struct {
	Total     int64            `json:"total"`
	Pending   int64            `json:"pending"`
	Discarded int64            `json:"discarded"`
	ByJobType map[string]int64 `json:"by_job_type"`
}

// DeadLetterRepository 死信仓储接口
type DeadLetterRepository interface {
	Create(ctx context.Context, entry *model.DeadLetterEntry) error
	GetByID(ctx context.Context, id string) (*model.DeadLetterEntry, error)
	List(ctx context.Context, filter *DeadLetterFilter, page *Pagination) ([]*model.DeadLetterEntry, error)
	UpdateStatus(ctx context.Context, id string, status model.DeadLetterStatus, resolvedAt *int64) error
	Metrics(ctx context.Context) (*DeadLetterMetrics, error)
}

// deadLetterRepository 死信仓储实现
type deadLetterRepository struct {
	*Repository
}

// NewDeadLetterRepository 创建死信仓储
func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{
		Repository: NewRepository(db),
	}
}

func (r *deadLetterRepository) Create(ctx context.Context, entry *model.DeadLetterEntry) error {
	if entry.FailedAt == 0 {
		entry.FailedAt = time.Now().UnixMilli()
	}
	if entry.Status == "" {
		entry.Status = model.DeadLetterStatusPending
	}
	return r.DB(ctx).Create(entry).Error
}

func (r *deadLetterRepository) GetByID(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	var entry model.DeadLetterEntry
	err := r.DB(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *deadLetterRepository) List(ctx context.Context, filter *DeadLetterFilter, page *Pagination) ([]*model.DeadLetterEntry, error) {
	query := r.DB(ctx).Model(&model.DeadLetterEntry{})

	if filter != nil {
		if filter.JobType != "" {
			query = query.Where("job_type = ?", filter.JobType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
	}

	if page != nil {
		if err := query.Count(&page.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(page.Offset()).Limit(page.Limit())
	}

	var entries []*model.DeadLetterEntry
	err := query.Order("failed_at DESC").Find(&entries).Error
	return entries, err
}

func (r *deadLetterRepository) UpdateStatus(ctx context.Context, id string, status model.DeadLetterStatus, resolvedAt *int64) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if resolvedAt != nil {
		updates["resolved_at"] = *resolvedAt
	}

	result := r.DB(ctx).Model(&model.DeadLetterEntry{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

func (r *deadLetterRepository) Metrics(ctx context.Context) (*DeadLetterMetrics, error) {
	metrics := &DeadLetterMetrics{
		ByJobType: make(map[string]int64),
	}

	db := r.DB(ctx).Model(&model.DeadLetterEntry{})

	if err := db.Count(&metrics.Total).Error; err != nil {
		return nil, err
	}
	if err := r.DB(ctx).Model(&model.DeadLetterEntry{}).
		Where("status = ?", model.DeadLetterStatusPending).
		Count(&metrics.Pending).Error; err != nil {
		return nil, err
	}
	if err := r.DB(ctx).Model(&model.DeadLetterEntry{}).
		Where("status = ?", model.DeadLetterStatusDiscarded).
		Count(&metrics.Discarded).Error; err != nil {
		return nil, err
	}

	type jobTypeCount struct {
		JobType string
		Count   int64
	}
	var counts []jobTypeCount
	if err := r.DB(ctx).Model(&model.DeadLetterEntry{}).
		Select("job_type, COUNT(*) AS count").
		Group("job_type").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		metrics.ByJobType[c.JobType] = c.Count
	}

	return metrics, nil
}
