package model

import "github.com/shopspring/decimal"

// VaultStatus 资金库状态
type VaultStatus string

const (
	VaultStatusActive VaultStatus = "active"
	VaultStatusClosed VaultStatus = "closed"
)

// Vault 资金库
//
// 由链上 vault_created / vault_funded / vault_closed 事件维护。
type Vault struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	VaultID      string          `gorm:"column:vault_id;type:varchar(100);uniqueIndex;not null" json:"vault_id"`
	Owner        string          `gorm:"column:owner;type:varchar(100);not null" json:"owner"`
	GoalAmount   decimal.Decimal `gorm:"column:goal_amount;type:decimal(36,18);not null" json:"goal_amount"`
	RaisedAmount decimal.Decimal `gorm:"column:raised_amount;type:decimal(36,18);not null" json:"raised_amount"`
	Status       VaultStatus     `gorm:"column:status;type:varchar(20);index;not null;default:'active'" json:"status"`
	CreatedAt    int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt    int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Vault) TableName() string {
	return "vaults"
}
