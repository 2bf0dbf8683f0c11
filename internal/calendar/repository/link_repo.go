package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/domain"
)

type LinkRepo struct{ db *gorm.DB }

func NewLinkRepo(db *gorm.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

func (r *LinkRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.CalendarLink{}, &domain.EventConsumed{})
}

func (r *LinkRepo) Upsert(ctx context.Context, l *domain.CalendarLink) error {
	return r.db.WithContext(ctx).
		Where("provider_id = ?", l.ProviderID).
		Assign(map[string]any{
			"external_account": l.ExternalAccount,
			"access_token":     l.AccessToken,
			"refresh_token":    l.RefreshToken,
			"token_expiry":     l.TokenExpiry,
			"status":           l.Status,
		}).FirstOrCreate(l).Error
}

func (r *LinkRepo) ByProvider(ctx context.Context, providerID string) (*domain.CalendarLink, error) {
	var l domain.CalendarLink
	if err := r.db.WithContext(ctx).First(&l, "provider_id = ?", providerID).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LinkRepo) UpdateTokens(ctx context.Context, providerID, access, refresh string, expiry time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.CalendarLink{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_expiry":  expiry,
			"status":        domain.LinkConnected,
		}).Error
}

// AdvanceCursor moves the incremental pull position; callers do this
// only after the whole imported batch is durably written.
func (r *LinkRepo) AdvanceCursor(ctx context.Context, providerID, cursor string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.CalendarLink{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]any{"sync_cursor": cursor, "last_sync_at": at}).Error
}

func (r *LinkRepo) SetStatus(ctx context.Context, providerID string, status domain.LinkStatus) error {
	return r.db.WithContext(ctx).Model(&domain.CalendarLink{}).
		Where("provider_id = ?", providerID).
		Update("status", status).Error
}

func (r *LinkRepo) Delete(ctx context.Context, providerID string) error {
	return r.db.WithContext(ctx).Delete(&domain.CalendarLink{}, "provider_id = ?", providerID).Error
}

func (r *LinkRepo) AllConnected(ctx context.Context) ([]domain.CalendarLink, error) {
	var out []domain.CalendarLink
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.LinkStatus{domain.LinkConnected, domain.LinkTokenExpired}).
		Find(&out).Error
	return out, err
}

func (r *LinkRepo) ExpiringBefore(ctx context.Context, t time.Time) ([]domain.CalendarLink, error) {
	var out []domain.CalendarLink
	err := r.db.WithContext(ctx).
		Where("status = ? AND token_expiry < ?", domain.LinkConnected, t).
		Find(&out).Error
	return out, err
}

// Consumed reports whether the event id was already processed.
func (r *LinkRepo) Consumed(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.EventConsumed{}).
		Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// MarkConsumed returns false when the event id was already processed.
func (r *LinkRepo) MarkConsumed(ctx context.Context, id, key string) (bool, error) {
	rec := domain.EventConsumed{ID: id, EventKey: key, ProcessedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	// sqlite and postgres both wrap unique violations differently under
	// gorm; fall back to an existence probe before failing.
	var count int64
	if cerr := r.db.WithContext(ctx).Model(&domain.EventConsumed{}).
		Where("id = ?", id).Count(&count).Error; cerr == nil && count > 0 {
		return false, nil
	}
	return false, err
}
