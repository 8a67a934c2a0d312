package model

// DeadLetterStatus 死信状态
type DeadLetterStatus string

const (
	DeadLetterStatusPending      DeadLetterStatus = "pending"
	DeadLetterStatusReprocessing DeadLetterStatus = "reprocessing"
	DeadLetterStatusDiscarded    DeadLetterStatus = "discarded"
)

// DeadLetterEntry 死信记录
//
// 重试耗尽的工作单元进入死信表，等待人工处理；记录从不自动清除。
type DeadLetterEntry struct {
	ID           string           `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	JobType      string           `gorm:"column:job_type;type:varchar(100);index;not null" json:"job_type"`
	Payload      string           `gorm:"column:payload;type:text;not null" json:"payload"`
	ErrorMessage string           `gorm:"column:error_message;type:text;not null" json:"error_message"`
	RetryCount   int              `gorm:"column:retry_count;type:int;not null" json:"retry_count"`
	Status       DeadLetterStatus `gorm:"column:status;type:varchar(20);index;not null;default:'pending'" json:"status"`
	FailedAt     int64            `gorm:"column:failed_at;type:bigint;not null" json:"failed_at"`
	ResolvedAt   *int64           `gorm:"column:resolved_at;type:bigint" json:"resolved_at,omitempty"`
}

// TableName 返回表名
func (DeadLetterEntry) TableName() string {
	return "dead_letter_entries"
}

// IsTerminal 是否为终态
func (e *DeadLetterEntry) IsTerminal() bool {
	return e.Status == DeadLetterStatusDiscarded
}
