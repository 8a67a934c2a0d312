package service

import (
	"testing"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB 创建内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.LedgerCursor{},
		&model.ProcessedEvent{},
		&model.DeadLetterEntry{},
		&model.Vault{},
		&model.Milestone{},
		&model.Verifier{},
		&model.MilestoneVerifierAssignment{},
		&model.ValidationSubmission{},
	))

	return db
}
