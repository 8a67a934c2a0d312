package app

import (
	"gorm.io/gorm"

	"github.com/fundvault/fundvault-chain/internal/model"
)

// AutoMigrate 迁移全部表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.LedgerCursor{},
		&model.ProcessedEvent{},
		&model.DeadLetterEntry{},
		&model.Vault{},
		&model.Milestone{},
		&model.Verifier{},
		&model.MilestoneVerifierAssignment{},
		&model.ValidationSubmission{},
	)
}
