package model

// LedgerCursor 账本游标
//
// 每个消费服务一行，记录最近一次成功处理的账本位置。
// 游标只允许前进，回退视为状态损坏。
type LedgerCursor struct {
	ID              int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ServiceName     string `gorm:"column:service_name;type:varchar(100);uniqueIndex;not null" json:"service_name"`
	LastPosition    int64  `gorm:"column:last_position;type:bigint;not null" json:"last_position"`
	LastProcessedAt int64  `gorm:"column:last_processed_at;type:bigint;not null" json:"last_processed_at"`
	CreatedAt       int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (LedgerCursor) TableName() string {
	return "ledger_cursors"
}
