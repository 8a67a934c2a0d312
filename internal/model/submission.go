package model

// SubmissionVerdict 验证裁决
type SubmissionVerdict string

const (
	SubmissionVerdictApproved SubmissionVerdict = "approved"
	SubmissionVerdictRejected SubmissionVerdict = "rejected"
)

// ValidationSubmission 验证提交记录
//
// 每个幂等键至多创建一行；Fingerprint 为逻辑负载的规范化摘要，
// 重放请求靠它区分"同一请求重试"与"幂等键冲突"。
type ValidationSubmission struct {
	ID             string            `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	VaultID        string            `gorm:"column:vault_id;type:varchar(100);index;not null" json:"vault_id"`
	MilestoneID    string            `gorm:"column:milestone_id;type:varchar(100);index;not null" json:"milestone_id"`
	VerifierID     string            `gorm:"column:verifier_id;type:varchar(100);index;not null" json:"verifier_id"`
	Verdict        SubmissionVerdict `gorm:"column:verdict;type:varchar(20);not null" json:"verdict"`
	Reason         string            `gorm:"column:reason;type:text" json:"reason,omitempty"`
	IdempotencyKey string            `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex;not null" json:"idempotency_key"`
	Fingerprint    string            `gorm:"column:fingerprint;type:varchar(64);not null" json:"fingerprint"`

	// 证据描述符 (证据本体不落库)
	EvidenceMimeType  string `gorm:"column:evidence_mime_type;type:varchar(100);not null" json:"evidence_mime_type"`
	EvidenceSizeBytes int64  `gorm:"column:evidence_size_bytes;type:bigint;not null" json:"evidence_size_bytes"`
	EvidenceSHA256    string `gorm:"column:evidence_sha256;type:varchar(64);not null" json:"evidence_sha256"`
	EvidenceEncrypted bool   `gorm:"column:evidence_encrypted;type:boolean;not null;default:false" json:"evidence_encrypted"`
	EvidenceAlgorithm string `gorm:"column:evidence_algorithm;type:varchar(50)" json:"evidence_algorithm,omitempty"`
	EvidenceKeyID     string `gorm:"column:evidence_key_id;type:varchar(100)" json:"evidence_key_id,omitempty"`

	CreatedAt int64 `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (ValidationSubmission) TableName() string {
	return "validation_submissions"
}
