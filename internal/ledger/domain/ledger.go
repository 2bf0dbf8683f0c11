package domain

import "time"

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// Account carries a cached balance for reads only; the transaction log
// is the source of truth and the cache is rebuilt on any divergence.
type Account struct {
	ID            string `gorm:"primaryKey"`
	Role          Role   `gorm:"index"`
	Active        bool
	CachedBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindEarn     Kind = "earn"
	KindSpend    Kind = "spend"
	KindRefund   Kind = "refund"
	KindExpire   Kind = "expire"
)

// CreditTransaction is immutable once written. Amount is signed:
// spend and expire are negative, everything else positive.
type CreditTransaction struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	Kind           Kind   `gorm:"index"`
	Amount         int64
	Reference      string    `gorm:"index"` // package, article or booking id
	IdempotencyKey string    `gorm:"uniqueIndex"`
	CreatedAt      time.Time `gorm:"index"`
}
