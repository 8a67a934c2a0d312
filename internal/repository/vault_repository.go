package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrVaultNotFound = errors.New("vault not found")
	// ErrDuplicateVault vault_id 已存在
	ErrDuplicateVault = errors.New("duplicate vault")
)

// VaultRepository 资金库仓储接口
type VaultRepository interface {
	Create(ctx context.Context, vault *model.Vault) error
	GetByVaultID(ctx context.Context, vaultID string) (*model.Vault, error)
	AddRaisedAmount(ctx context.Context, vaultID string, amount decimal.Decimal) error
	UpdateStatus(ctx context.Context, vaultID string, status model.VaultStatus) error
}

// vaultRepository 资金库仓储实现
type vaultRepository struct {
	*Repository
}

// NewVaultRepository 创建资金库仓储
func NewVaultRepository(db *gorm.DB) VaultRepository {
	return &vaultRepository{
		Repository: NewRepository(db),
	}
}

func (r *vaultRepository) Create(ctx context.Context, vault *model.Vault) error {
	now := time.Now().UnixMilli()
	vault.CreatedAt = now
	vault.UpdatedAt = now
	if vault.Status == "" {
		vault.Status = model.VaultStatusActive
	}
	err := r.DB(ctx).Create(vault).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateVault
	}
	return err
}

func (r *vaultRepository) GetByVaultID(ctx context.Context, vaultID string) (*model.Vault, error) {
	var vault model.Vault
	err := r.DB(ctx).Where("vault_id = ?", vaultID).First(&vault).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &vault, nil
}

// AddRaisedAmount 累加已筹金额
//
// 在事务内读改写，避免并发注资丢失更新；并发事务的序列化失败
// 与死锁属可重试错误，由 TransactionWithRetry 兜底。
func (r *vaultRepository) AddRaisedAmount(ctx context.Context, vaultID string, amount decimal.Decimal) error {
	return r.TransactionWithRetry(ctx, 3, func(txCtx context.Context) error {
		var vault model.Vault
		err := r.DB(txCtx).Where("vault_id = ?", vaultID).First(&vault).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVaultNotFound
		}
		if err != nil {
			return err
		}

		return r.DB(txCtx).Model(&model.Vault{}).
			Where("vault_id = ?", vaultID).
			Updates(map[string]interface{}{
				"raised_amount": vault.RaisedAmount.Add(amount),
				"updated_at":    time.Now().UnixMilli(),
			}).Error
	})
}

func (r *vaultRepository) UpdateStatus(ctx context.Context, vaultID string, status model.VaultStatus) error {
	result := r.DB(ctx).Model(&model.Vault{}).
		Where("vault_id = ?", vaultID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVaultNotFound
	}
	return nil
}
