package model

import "github.com/shopspring/decimal"

// LedgerEventType 账本事件类型
type LedgerEventType string

const (
	LedgerEventVaultCreated      LedgerEventType = "vault_created"
	LedgerEventVaultFunded       LedgerEventType = "vault_funded"
	LedgerEventMilestoneCreated  LedgerEventType = "milestone_created"
	LedgerEventMilestoneReleased LedgerEventType = "milestone_released"
	LedgerEventVaultClosed       LedgerEventType = "vault_closed"
)

// KnownLedgerEventTypes 合约事件类型全集
var KnownLedgerEventTypes = map[LedgerEventType]bool{
	LedgerEventVaultCreated:      true,
	LedgerEventVaultFunded:       true,
	LedgerEventMilestoneCreated:  true,
	LedgerEventMilestoneReleased: true,
	LedgerEventVaultClosed:       true,
}

// ProcessedEvent 已处理事件记录
//
// event_id 唯一，作为全局去重键；一个事件最多对应一行，行创建后不再修改。
type ProcessedEvent struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID        string `gorm:"column:event_id;type:varchar(100);uniqueIndex;not null" json:"event_id"`
	TxHash         string `gorm:"column:tx_hash;type:varchar(66);index;not null" json:"tx_hash"`
	EventIndex     int    `gorm:"column:event_index;type:int;not null" json:"event_index"`
	LedgerPosition int64  `gorm:"column:ledger_position;type:bigint;index;not null" json:"ledger_position"`
	ProcessedAt    int64  `gorm:"column:processed_at;type:bigint;not null" json:"processed_at"`
}

// TableName 返回表名
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// ParsedEvent 解析后的类型化事件 (不持久化)
//
// 同一个 (tx_hash, event_index) 即同一个事件，EventID 由两者拼接生成。
// 五种事件变体中恰好有一个负载字段非空。
type ParsedEvent struct {
	EventID        string          `json:"event_id"`
	TxHash         string          `json:"tx_hash"`
	EventIndex     int             `json:"event_index"`
	LedgerPosition uint64          `json:"ledger_position"`
	Type           LedgerEventType `json:"type"`

	VaultCreated      *VaultCreatedPayload      `json:"vault_created,omitempty"`
	VaultFunded       *VaultFundedPayload       `json:"vault_funded,omitempty"`
	MilestoneCreated  *MilestoneCreatedPayload  `json:"milestone_created,omitempty"`
	MilestoneReleased *MilestoneReleasedPayload `json:"milestone_released,omitempty"`
	VaultClosed       *VaultClosedPayload       `json:"vault_closed,omitempty"`
}

// VaultCreatedPayload 资金库创建事件负载
type VaultCreatedPayload struct {
	VaultID    string          `json:"vault_id"`
	Owner      string          `json:"owner"`
	GoalAmount decimal.Decimal `json:"goal_amount"`
}

// VaultFundedPayload 注资事件负载
type VaultFundedPayload struct {
	VaultID string          `json:"vault_id"`
	Funder  string          `json:"funder"`
	Amount  decimal.Decimal `json:"amount"`
}

// MilestoneCreatedPayload 里程碑创建事件负载
type MilestoneCreatedPayload struct {
	VaultID        string `json:"vault_id"`
	MilestoneID    string `json:"milestone_id"`
	ApprovalPolicy string `json:"approval_policy"`
	Deadline       int64  `json:"deadline"` // 毫秒时间戳
}

// MilestoneReleasedPayload 里程碑放款事件负载
type MilestoneReleasedPayload struct {
	VaultID     string          `json:"vault_id"`
	MilestoneID string          `json:"milestone_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// VaultClosedPayload 资金库关闭事件负载
type VaultClosedPayload struct {
	VaultID string `json:"vault_id"`
	Reason  string `json:"reason"`
}
