package ledger

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append writes one ledger entry. The ledger is append-only; entries are
	// never updated or deleted.
	Append(ctx context.Context, t *Transaction) error

	// ListByUser returns a page of the user's entries, newest first.
	ListByUser(ctx context.Context, q *ListQuery) (*PagedTransactions, error)

	// SumByUser computes the authoritative balance from the ledger. Used for
	// reconciliation against the cached users.credits projection.
	SumByUser(ctx context.Context, userID uuid.UUID) (int, error)
}
