package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
)

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrAccountInactive     = errors.New("account_inactive")
)

type LedgerRepo struct{ db *gorm.DB }

func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Account{}, &domain.CreditTransaction{})
}

func (r *LedgerRepo) EnsureAccount(ctx context.Context, id string, role domain.Role) (*domain.Account, error) {
	a := domain.Account{ID: id, Role: role, Active: true}
	if err := r.db.WithContext(ctx).Where("id = ?", id).FirstOrCreate(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *LedgerRepo) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *LedgerRepo) DeactivateAccount(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).
		Update("active", false).Error
}

func (r *LedgerRepo) AccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Account{}).Where("active = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

// Append writes one immutable transaction. A duplicate idempotency key
// returns the existing row instead of erroring, so callers can retry.
// A spend that would drive the balance negative fails with
// ErrInsufficientBalance and writes nothing. Callers serialize per
// account; the transaction here keeps check-then-write atomic against
// the store itself.
func (r *LedgerRepo) Append(ctx context.Context, t *domain.CreditTransaction) (*domain.CreditTransaction, error) {
	var out domain.CreditTransaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.CreditTransaction
		err := tx.Where("idempotency_key = ?", t.IdempotencyKey).Take(&existing).Error
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var acct domain.Account
		if err := tx.First(&acct, "id = ?", t.AccountID).Error; err != nil {
			return err
		}
		if !acct.Active {
			return ErrAccountInactive
		}

		var bal int64
		if err := tx.Model(&domain.CreditTransaction{}).
			Where("account_id = ?", t.AccountID).
			Select("COALESCE(SUM(amount), 0)").Scan(&bal).Error; err != nil {
			return err
		}
		if t.Kind == domain.KindSpend && bal+t.Amount < 0 {
			return ErrInsufficientBalance
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Account{}).Where("id = ?", t.AccountID).
			Update("cached_balance", bal+t.Amount).Error; err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance is always derived from the log.
func (r *LedgerRepo) Balance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := r.db.WithContext(ctx).Model(&domain.CreditTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").Scan(&bal).Error
	return bal, err
}

func (r *LedgerRepo) List(ctx context.Context, accountID string, page, size int32) ([]domain.CreditTransaction, int64, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	qb := r.db.WithContext(ctx).Model(&domain.CreditTransaction{}).Where("account_id = ?", accountID)
	var total int64
	if err := qb.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.CreditTransaction
	if err := qb.Order("created_at DESC").Limit(int(size)).Offset(int(page * size)).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AllByAccount returns the full log oldest first, for FIFO expiry.
func (r *LedgerRepo) AllByAccount(ctx context.Context, accountID string) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *LedgerRepo) ByReference(ctx context.Context, kind domain.Kind, reference string) (*domain.CreditTransaction, error) {
	var t domain.CreditTransaction
	if err := r.db.WithContext(ctx).First(&t, "kind = ? AND reference = ?", kind, reference).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *LedgerRepo) ByKind(ctx context.Context, kind domain.Kind) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := r.db.WithContext(ctx).Where("kind = ?", kind).Find(&out).Error
	return out, err
}

// RebuildCachedBalance recomputes the cache from the log and reports
// whether it had drifted.
func (r *LedgerRepo) RebuildCachedBalance(ctx context.Context, accountID string) (int64, bool, error) {
	acct, err := r.AccountByID(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	bal, err := r.Balance(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	if acct.CachedBalance == bal {
		return bal, false, nil
	}
	err = r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", accountID).
		Update("cached_balance", bal).Error
	return bal, true, err
}
