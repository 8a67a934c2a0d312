package model

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestoneStatusPending  MilestoneStatus = "pending"
	MilestoneStatusApproved MilestoneStatus = "approved"
	MilestoneStatusRejected MilestoneStatus = "rejected"
	MilestoneStatusExpired  MilestoneStatus = "expired"
)

// IsTerminal 是否为终态 (终态后状态不再变化)
func (s MilestoneStatus) IsTerminal() bool {
	switch s {
	case MilestoneStatusApproved, MilestoneStatusRejected, MilestoneStatusExpired:
		return true
	}
	return false
}

// ApprovalPolicy 审批策略
type ApprovalPolicy string

const (
	// ApprovalPolicyAll 全体一致: 任一拒绝即拒绝，全部通过才通过
	ApprovalPolicyAll ApprovalPolicy = "all"
	// ApprovalPolicyMajority 过半数: 严格超过 N/2 的同向裁决生效
	ApprovalPolicyMajority ApprovalPolicy = "majority"
)

// Milestone 里程碑
type Milestone struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MilestoneID    string          `gorm:"column:milestone_id;type:varchar(100);uniqueIndex;not null" json:"milestone_id"`
	VaultID        string          `gorm:"column:vault_id;type:varchar(100);index;not null" json:"vault_id"`
	Status         MilestoneStatus `gorm:"column:status;type:varchar(20);index;not null;default:'pending'" json:"status"`
	ApprovalPolicy ApprovalPolicy  `gorm:"column:approval_policy;type:varchar(20);not null;default:'all'" json:"approval_policy"`
	Deadline       int64           `gorm:"column:deadline;type:bigint;index;not null" json:"deadline"` // 毫秒时间戳
	ReleasedAt     *int64          `gorm:"column:released_at;type:bigint" json:"released_at,omitempty"`
	CreatedAt      int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Milestone) TableName() string {
	return "milestones"
}

// Verifier 验证人
//
// 仅 active 验证人参与审批聚合；停用不影响已到终态的里程碑。
type Verifier struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	VerifierID string `gorm:"column:verifier_id;type:varchar(100);uniqueIndex;not null" json:"verifier_id"`
	Active     bool   `gorm:"column:active;type:boolean;index;not null;default:true" json:"active"`
	CreatedAt  int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Verifier) TableName() string {
	return "verifiers"
}

// VerifierDecision 验证人裁决
type VerifierDecision string

const (
	VerifierDecisionPending  VerifierDecision = "pending"
	VerifierDecisionApproved VerifierDecision = "approved"
	VerifierDecisionRejected VerifierDecision = "rejected"
)

// MilestoneVerifierAssignment 里程碑验证人分配
//
// (milestone_id, verifier_id) 唯一；裁决只允许从 pending 迁移一次。
type MilestoneVerifierAssignment struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	MilestoneID string           `gorm:"column:milestone_id;type:varchar(100);uniqueIndex:idx_milestone_verifier;not null" json:"milestone_id"`
	VerifierID  string           `gorm:"column:verifier_id;type:varchar(100);uniqueIndex:idx_milestone_verifier;index;not null" json:"verifier_id"`
	Decision    VerifierDecision `gorm:"column:decision;type:varchar(20);not null;default:'pending'" json:"decision"`
	DecidedAt   *int64           `gorm:"column:decided_at;type:bigint" json:"decided_at,omitempty"`
	CreatedAt   int64            `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt   int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (MilestoneVerifierAssignment) TableName() string {
	return "milestone_verifier_assignments"
}
