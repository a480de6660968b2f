package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medibook/medibook/internal/domain/ledger"
)

type LedgerRepo struct {
	db *gorm.DB
}

func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Append(ctx context.Context, t *ledger.Transaction) error {
	if err := conn(ctx, r.db).Create(t).Error; err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepo) ListByUser(ctx context.Context, q *ledger.ListQuery) (*ledger.PagedTransactions, error) {
	db := conn(ctx, r.db).Model(&ledger.Transaction{}).Where("user_id = ?", q.UserID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting ledger entries: %w", err)
	}

	var txs []*ledger.Transaction
	err := db.Order("created_at DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}

	return &ledger.PagedTransactions{
		Transactions: txs,
		TotalCount:   total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   int(math.Ceil(float64(total) / float64(q.PageSize))),
	}, nil
}

func (r *LedgerRepo) SumByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var sum *int
	err := conn(ctx, r.db).Model(&ledger.Transaction{}).
		Where("user_id = ?", userID).
		Select("SUM(amount)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("summing ledger entries: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
