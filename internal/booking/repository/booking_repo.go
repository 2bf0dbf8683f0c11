package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/booking/domain"
)

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Booking{})
}

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BookingRepo) ByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) BySlotID(ctx context.Context, slotID string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.WithContext(ctx).
		Where("slot_id = ? AND status IN ?", slotID,
			[]domain.Status{domain.StatusConfirmed, domain.StatusCompleted, domain.StatusNoShow}).
		Order("created_at DESC").First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Booking, error) {
	var b domain.Booking
	tx := r.db.WithContext(ctx).Begin()
	if err := tx.First(&b, "id = ?", id).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	b.Status = to
	if err := tx.Save(&b).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return &b, tx.Commit().Error
}

func (r *BookingRepo) SetExternalEventID(ctx context.Context, id, eventID string) error {
	return r.db.WithContext(ctx).Model(&domain.Booking{}).Where("id = ?", id).
		Update("external_event_id", eventID).Error
}

// DueCompletion returns confirmed bookings whose session end has passed.
func (r *BookingRepo) DueCompletion(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time < ?", domain.StatusConfirmed, now).
		Find(&out).Error
	return out, err
}

func (r *BookingRepo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error
	return out, err
}

func (r *BookingRepo) List(ctx context.Context, page, size int32, clientID, providerID string) ([]domain.Booking, int64, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	qb := r.db.WithContext(ctx).Model(&domain.Booking{})
	if clientID != "" {
		qb = qb.Where("client_id = ?", clientID)
	}
	if providerID != "" {
		qb = qb.Where("provider_id = ?", providerID)
	}
	var total int64
	if err := qb.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Booking
	if err := qb.Order("start_time ASC").Limit(int(size)).Offset(int(page * size)).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
