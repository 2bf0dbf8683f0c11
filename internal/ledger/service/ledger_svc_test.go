package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/ledger/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return gdb
}

type capturingPub struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturingPub) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func newTestLedger(t *testing.T) (*LedgerSvc, *repository.LedgerRepo, *capturingPub) {
	t.Helper()
	repo := repository.NewLedgerRepo(openTestDB(t))
	require.NoError(t, repo.Migrate())
	pub := &capturingPub{}
	return NewLedgerSvc(repo, pub, 182*24*time.Hour, 10), repo, pub
}

func TestBalanceDerivedFromLog(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	require.NoError(t, svc.Purchase(ctx, "alice", 60, "chg_1"))
	_, err = svc.Earn(ctx, "alice", "article-1", 5)
	require.NoError(t, err)
	require.NoError(t, svc.Spend(ctx, "alice", 50, "bk_1"))

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 15, bal)

	txs, total, err := svc.Transactions(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, txs, 3)
}

func TestDuplicateIdempotencyKeyReturnsOriginal(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	require.NoError(t, svc.Purchase(ctx, "alice", 60, "chg_1"))
	// webhook redelivery
	require.NoError(t, svc.Purchase(ctx, "alice", 60, "chg_1"))

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 60, bal)

	require.NoError(t, svc.Spend(ctx, "alice", 20, "bk_1"))
	require.NoError(t, svc.Spend(ctx, "alice", 20, "bk_1"))
	bal, err = svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 40, bal)
}

func TestSpendInsufficientBalance(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)
	require.NoError(t, svc.Purchase(ctx, "alice", 30, "chg_1"))

	err = svc.Spend(ctx, "alice", 50, "bk_1")
	require.ErrorIs(t, err, repository.ErrInsufficientBalance)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 30, bal)

	has, err := svc.HasSpend(ctx, "bk_1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestInactiveAccountRejected(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateAccount(ctx, "alice"))

	err = svc.Purchase(ctx, "alice", 60, "chg_1")
	require.ErrorIs(t, err, repository.ErrAccountInactive)
}

func TestEarnOncePerArticle(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	first, err := svc.Earn(ctx, "alice", "article-1", 5)
	require.NoError(t, err)
	second, err := svc.Earn(ctx, "alice", "article-1", 5)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 5, bal)
}

func TestExpireCreditsFIFO(t *testing.T) {
	svc, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	now := time.Now().UTC()
	old := now.Add(-200 * 24 * time.Hour)

	// grant A is past validity, grant B is fresh
	_, err = repo.Append(ctx, &domain.CreditTransaction{
		ID: uuid.NewString(), AccountID: "alice", Kind: domain.KindPurchase,
		Amount: 60, Reference: "chg_old", IdempotencyKey: "purchase:chg_old",
		CreatedAt: old,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Purchase(ctx, "alice", 40, "chg_new"))

	// the spend drains the oldest grant first, leaving 10 of grant A
	require.NoError(t, svc.Spend(ctx, "alice", 50, "bk_1"))

	expired, err := svc.ExpireCredits(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.EqualValues(t, -10, expired[0].Amount)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 40, bal)

	// a second run finds nothing new
	again, err := svc.ExpireCredits(ctx, "alice", now)
	require.NoError(t, err)
	require.Empty(t, again)
	bal, err = svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 40, bal)
}

func TestExpireNeverDebitsSpentCredits(t *testing.T) {
	svc, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	_, err = repo.Append(ctx, &domain.CreditTransaction{
		ID: uuid.NewString(), AccountID: "alice", Kind: domain.KindPurchase,
		Amount: 60, Reference: "chg_old", IdempotencyKey: "purchase:chg_old",
		CreatedAt: old,
	})
	require.NoError(t, err)

	// a spend racing the expiry sweep: whichever runs first, the other
	// sees its effect, so the 60 credits are debited exactly once
	var wg sync.WaitGroup
	var spendErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		spendErr = svc.Spend(ctx, "alice", 60, "bk_1")
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.ExpireCredits(ctx, "alice", time.Now().UTC())
	}()
	wg.Wait()

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 0, bal)
	if spendErr != nil {
		require.ErrorIs(t, spendErr, repository.ErrInsufficientBalance)
	}
}

func TestEarnedCreditsNeverExpire(t *testing.T) {
	svc, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	_, err = repo.Append(ctx, &domain.CreditTransaction{
		ID: uuid.NewString(), AccountID: "alice", Kind: domain.KindEarn,
		Amount: 15, Reference: "article-1", IdempotencyKey: "earn:alice:article-1",
		CreatedAt: old,
	})
	require.NoError(t, err)

	expired, err := svc.ExpireCredits(ctx, "alice", time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestConcurrentSpendsSingleWinner(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)
	require.NoError(t, svc.Purchase(ctx, "alice", 10, "chg_1"))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- svc.Spend(ctx, "alice", 10, fmt.Sprintf("bk_%d", n))
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, repository.ErrInsufficientBalance)
			insufficient++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, insufficient)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 0, bal)
}

func TestLowBalanceEventPublished(t *testing.T) {
	svc, _, pub := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)
	require.NoError(t, svc.Purchase(ctx, "alice", 12, "chg_1"))
	require.NoError(t, svc.Spend(ctx, "alice", 5, "bk_1"))

	require.Contains(t, pub.keys, "credits.low")
}

func TestVerifyCachedBalancesRepairsDrift(t *testing.T) {
	svc, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", domain.RoleClient)
	require.NoError(t, err)
	require.NoError(t, svc.Purchase(ctx, "alice", 60, "chg_1"))

	bal, drifted, err := repo.RebuildCachedBalance(ctx, "alice")
	require.NoError(t, err)
	require.False(t, drifted)
	require.EqualValues(t, 60, bal)

	drift, err := svc.VerifyCachedBalances(ctx)
	require.NoError(t, err)
	require.Zero(t, drift)
}
