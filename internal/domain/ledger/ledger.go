package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the business reason for a credit movement.
type TransactionType string

const (
	TypeInitialCredits       TransactionType = "initial_credits"
	TypeCreditPurchase       TransactionType = "credit_purchase"
	TypeAppointmentDeduction TransactionType = "appointment_deduction"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TypeInitialCredits, TypeCreditPurchase, TypeAppointmentDeduction:
		return true
	}
	return false
}

// Transaction is one row of the append-only credit ledger. Amounts are
// signed: grants positive, deductions negative. A user's balance is the sum
// of their transaction amounts; the users.credits column is the materialized
// projection of that sum and is updated in the same transaction as every
// append.
type Transaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	UserID    uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	Type      TransactionType `gorm:"column:type;type:varchar(30);not null;index"`
	Amount    int             `gorm:"column:amount;not null"`
	PackageID string          `gorm:"column:package_id;type:varchar(50)"`
}

func (Transaction) TableName() string {
	return "booking.credit_transactions"
}

type ListQuery struct {
	UserID   uuid.UUID
	Page     int
	PageSize int
}

type PagedTransactions struct {
	Transactions []*Transaction
	TotalCount   int64
	Page         int
	PageSize     int
	TotalPages   int
}
