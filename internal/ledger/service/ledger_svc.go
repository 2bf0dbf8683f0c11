package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/ledger/repository"
	"github.com/monoxchd/psicologia-platform-sub000/internal/lock"
)

var ErrBadAmount = errors.New("bad_amount")

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type LedgerSvc struct {
	repo         *repository.LedgerRepo
	locks        *lock.Keyed
	pub          Publisher
	validity     time.Duration
	lowThreshold int64
}

func NewLedgerSvc(r *repository.LedgerRepo, pub Publisher, validity time.Duration, lowThreshold int64) *LedgerSvc {
	return &LedgerSvc{
		repo:         r,
		locks:        lock.NewKeyed(),
		pub:          pub,
		validity:     validity,
		lowThreshold: lowThreshold,
	}
}

func (s *LedgerSvc) EnsureAccount(ctx context.Context, id string, role domain.Role) (*domain.Account, error) {
	return s.repo.EnsureAccount(ctx, id, role)
}

func (s *LedgerSvc) DeactivateAccount(ctx context.Context, id string) error {
	return s.repo.DeactivateAccount(ctx, id)
}

// Record appends one transaction, serialized per account. Sign
// conventions are enforced here so callers pass magnitudes only where
// the kind implies the sign.
func (s *LedgerSvc) Record(ctx context.Context, accountID string, kind domain.Kind, amount int64, reference, idemKey string) (*domain.CreditTransaction, error) {
	if amount == 0 {
		return nil, ErrBadAmount
	}
	switch kind {
	case domain.KindSpend, domain.KindExpire:
		if amount > 0 {
			amount = -amount
		}
	case domain.KindPurchase, domain.KindEarn, domain.KindRefund:
		if amount < 0 {
			return nil, ErrBadAmount
		}
	default:
		return nil, fmt.Errorf("unknown transaction kind %q", kind)
	}

	unlock := s.locks.Acquire(accountID)
	defer unlock()
	return s.repo.Append(ctx, &domain.CreditTransaction{
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		Reference:      reference,
		IdempotencyKey: idemKey,
	})
}

func (s *LedgerSvc) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.repo.Balance(ctx, accountID)
}

func (s *LedgerSvc) Transactions(ctx context.Context, accountID string, page, size int32) ([]domain.CreditTransaction, int64, error) {
	return s.repo.List(ctx, accountID, page, size)
}

// Purchase records credits bought through the payment surface. The
// charge id doubles as idempotency key so webhook redelivery is a no-op.
func (s *LedgerSvc) Purchase(ctx context.Context, accountID string, credits int64, chargeID string) error {
	_, err := s.Record(ctx, accountID, domain.KindPurchase, credits, chargeID, "purchase:"+chargeID)
	return err
}

// Earn awards credits for a completed reading activity, once per
// (account, article) pair.
func (s *LedgerSvc) Earn(ctx context.Context, accountID, articleID string, credits int64) (*domain.CreditTransaction, error) {
	return s.Record(ctx, accountID, domain.KindEarn, credits, articleID,
		fmt.Sprintf("earn:%s:%s", accountID, articleID))
}

// Spend debits credits for a booking; ErrInsufficientBalance from the
// repository is passed through as an ordinary result.
func (s *LedgerSvc) Spend(ctx context.Context, accountID string, credits int64, bookingID string) error {
	if _, err := s.Record(ctx, accountID, domain.KindSpend, credits, bookingID, "spend:"+bookingID); err != nil {
		return err
	}
	s.checkLowBalance(ctx, accountID)
	return nil
}

func (s *LedgerSvc) Refund(ctx context.Context, accountID string, credits int64, bookingID string) error {
	_, err := s.Record(ctx, accountID, domain.KindRefund, credits, bookingID, "refund:"+bookingID)
	return err
}

func (s *LedgerSvc) HasSpend(ctx context.Context, bookingID string) (bool, error) {
	_, err := s.repo.ByReference(ctx, domain.KindSpend, bookingID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (s *LedgerSvc) AllSpends(ctx context.Context) ([]domain.CreditTransaction, error) {
	return s.repo.ByKind(ctx, domain.KindSpend)
}

func (s *LedgerSvc) checkLowBalance(ctx context.Context, accountID string) {
	if s.pub == nil {
		return
	}
	bal, err := s.repo.Balance(ctx, accountID)
	if err != nil || bal >= s.lowThreshold {
		return
	}
	_ = s.pub.PublishJSON(ctx, "credits.low", map[string]any{
		"account_id": accountID, "balance": bal,
	})
}

// ExpireCredits walks grants oldest first (FIFO: spends consume the
// oldest credits), finds purchase grants past the validity window with
// an unspent remainder, and appends one expire transaction per grant.
// Idempotent via the expire:<grant id> key. The snapshot and the expire
// writes happen under one lock acquisition, so a spend cannot land in
// between and invalidate the remainders.
func (s *LedgerSvc) ExpireCredits(ctx context.Context, accountID string, asOf time.Time) ([]domain.CreditTransaction, error) {
	unlock := s.locks.Acquire(accountID)
	defer unlock()

	txs, err := s.repo.AllByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	type grant struct {
		tx        domain.CreditTransaction
		remaining int64
	}
	var grants []*grant
	var consumed int64
	for _, t := range txs {
		switch {
		case t.Amount > 0:
			grants = append(grants, &grant{tx: t, remaining: t.Amount})
		case t.Amount < 0:
			consumed += -t.Amount
		}
	}
	// FIFO consumption: oldest grants are drained first.
	for _, g := range grants {
		if consumed == 0 {
			break
		}
		take := g.remaining
		if take > consumed {
			take = consumed
		}
		g.remaining -= take
		consumed -= take
	}

	var expired []domain.CreditTransaction
	for _, g := range grants {
		if g.tx.Kind != domain.KindPurchase || g.remaining == 0 {
			continue
		}
		if g.tx.CreatedAt.Add(s.validity).After(asOf) {
			continue
		}
		t, err := s.repo.Append(ctx, &domain.CreditTransaction{
			AccountID:      accountID,
			Kind:           domain.KindExpire,
			Amount:         -g.remaining,
			Reference:      g.tx.ID,
			IdempotencyKey: "expire:" + g.tx.ID,
		})
		if err != nil {
			return expired, err
		}
		expired = append(expired, *t)
	}
	return expired, nil
}

// ExpireAll runs credit expiry across every active account.
func (s *LedgerSvc) ExpireAll(ctx context.Context, asOf time.Time) error {
	ids, err := s.repo.AccountIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.ExpireCredits(ctx, id, asOf); err != nil {
			log.Printf("[ledger] expire account=%s: %v", id, err)
		}
	}
	return nil
}

// VerifyCachedBalances rebuilds every cached counter from the log; a
// drift is a fault worth an operator's attention, never auto-trusted.
func (s *LedgerSvc) VerifyCachedBalances(ctx context.Context) (int, error) {
	ids, err := s.repo.AccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	drifted := 0
	for _, id := range ids {
		_, d, err := s.repo.RebuildCachedBalance(ctx, id)
		if err != nil {
			return drifted, err
		}
		if d {
			drifted++
			log.Printf("[ledger] FAULT cached balance drifted account=%s (rebuilt from log)", id)
		}
	}
	return drifted, nil
}
