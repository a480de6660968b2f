package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/pkg/metrics"
)

// debitAttempts bounds the internal retry of transient store errors before an
// upstream failure is surfaced.
const debitAttempts = 3

const debitRetryBackoff = 50 * time.Millisecond

// CreditService owns the spendable balance. Every movement is a ledger append
// plus a projection update inside one transaction; the ledger is the source
// of truth and the cached balance is rebuildable from it.
type CreditService struct {
	ledgerRepo ledger.Repository
	userRepo   UserRepository
	tx         TxRunner
	metrics    *metrics.Collector
	cfg        config.CreditsConfig
	log        *zap.Logger
}

func NewCreditService(
	ledgerRepo ledger.Repository,
	userRepo UserRepository,
	tx TxRunner,
	collector *metrics.Collector,
	cfg config.CreditsConfig,
	log *zap.Logger,
) *CreditService {
	return &CreditService{
		ledgerRepo: ledgerRepo,
		userRepo:   userRepo,
		tx:         tx,
		metrics:    collector,
		cfg:        cfg,
		log:        log,
	}
}

// Debit spends credits. The conditional projection update and the ledger
// append commit together, so two concurrent debits can never both pass the
// balance check. Transient store errors are retried a bounded number of
// times; insufficient balance is never retried.
func (s *CreditService) Debit(ctx context.Context, userID uuid.UUID, amount int, txType ledger.TransactionType) error {
	if amount <= 0 {
		return &ValidationError{Fields: []string{"amount must be positive"}}
	}

	var lastErr error
	for attempt := 1; attempt <= debitAttempts; attempt++ {
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.userRepo.DebitCredits(ctx, userID, amount); err != nil {
				return err
			}
			return s.ledgerRepo.Append(ctx, &ledger.Transaction{
				UserID: userID,
				Type:   txType,
				Amount: -amount,
			})
		})
		if err == nil {
			s.metrics.CreditDebitsTotal.Inc()
			return nil
		}
		if errors.Is(err, ledger.ErrInsufficientCredits) || errors.Is(err, domain.ErrUserNotFound) {
			return err
		}

		lastErr = err
		s.log.Warn("transient debit failure, retrying",
			zap.String("user_id", userID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(debitRetryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("debit failed after %d attempts: %w", debitAttempts, lastErr)
}

// Purchase credits a fixed package to the user's balance.
func (s *CreditService) Purchase(ctx context.Context, userID uuid.UUID, packageID string, ip string) (*ledger.Transaction, error) {
	amount, ok := s.cfg.Packages[packageID]
	if !ok {
		return nil, ledger.ErrUnknownPackage
	}

	entry := &ledger.Transaction{
		UserID:    userID,
		Type:      ledger.TypeCreditPurchase,
		Amount:    amount,
		PackageID: packageID,
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.userRepo.CreditCredits(ctx, userID, amount); err != nil {
			return err
		}
		return s.ledgerRepo.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditGrantsTotal.WithLabelValues(string(ledger.TypeCreditPurchase)).Inc()
	s.log.Info("credits purchased",
		zap.String("user_id", userID.String()),
		zap.String("package", packageID),
		zap.Int("amount", amount),
	)

	return entry, nil
}

func (s *CreditService) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

func (s *CreditService) History(ctx context.Context, q *ledger.ListQuery) (*ledger.PagedTransactions, error) {
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.ledgerRepo.ListByUser(ctx, q)
}

// Reconcile compares the cached projection against the ledger sum. A
// mismatch means a write path bypassed the transactional discipline.
func (s *CreditService) Reconcile(ctx context.Context, userID uuid.UUID) (cached, derived int, err error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	sum, err := s.ledgerRepo.SumByUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	if u.Credits != sum {
		s.log.Error("credit balance drift detected",
			zap.String("user_id", userID.String()),
			zap.Int("cached", u.Credits),
			zap.Int("ledger_sum", sum),
		)
	}
	return u.Credits, sum, nil
}
