package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/availability/domain"
)

var (
	ErrOverlap      = errors.New("slot_overlap")
	ErrNotAvailable = errors.New("slot_not_available")
)

type SlotRepo struct{ db *gorm.DB }

func NewSlotRepo(db *gorm.DB) *SlotRepo {
	return &SlotRepo{db: db}
}

func (r *SlotRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Slot{}, &domain.Conflict{})
}

func (r *SlotRepo) ByID(ctx context.Context, id string) (*domain.Slot, error) {
	var s domain.Slot
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Declare records provider availability. Overlap with any open, held or
// booked slot is rejected; overlap with blocked time succeeds but the
// blocked part is carved out, so several open fragments may come back.
func (r *SlotRepo) Declare(ctx context.Context, providerID string, start, end time.Time) ([]domain.Slot, error) {
	var created []domain.Slot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clash domain.Slot
		err := tx.Model(&domain.Slot{}).
			Where("provider_id = ? AND status IN ?", providerID,
				[]domain.SlotStatus{domain.SlotOpen, domain.SlotHeld, domain.SlotBooked}).
			Where("start_time < ? AND end_time > ?", end, start).
			Take(&clash).Error
		if err == nil {
			return ErrOverlap
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var blocked []domain.Slot
		if err := tx.
			Where("provider_id = ? AND status = ?", providerID, domain.SlotBlocked).
			Where("start_time < ? AND end_time > ?", end, start).
			Find(&blocked).Error; err != nil {
			return err
		}
		cuts := make([]interval, 0, len(blocked))
		for _, b := range blocked {
			cuts = append(cuts, interval{start: b.StartTime, end: b.EndTime})
		}
		for _, frag := range subtract(start, end, cuts) {
			s := domain.Slot{
				ID:         uuid.NewString(),
				ProviderID: providerID,
				StartTime:  frag.start,
				EndTime:    frag.end,
				Status:     domain.SlotOpen,
				Source:     domain.SourceProvider,
			}
			if err := tx.Create(&s).Error; err != nil {
				return err
			}
			created = append(created, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SlotRepo) Hold(ctx context.Context, slotID string, ttl time.Duration) (*domain.Slot, error) {
	var out domain.Slot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Slot
		if err := tx.First(&s, "id = ?", slotID).Error; err != nil {
			return err
		}
		if s.Status != domain.SlotOpen {
			return ErrNotAvailable
		}
		exp := time.Now().UTC().Add(ttl)
		s.Status = domain.SlotHeld
		s.HoldExpiresAt = &exp
		if err := tx.Save(&s).Error; err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SlotRepo) transition(ctx context.Context, slotID string, from, to domain.SlotStatus) (*domain.Slot, error) {
	var out domain.Slot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Slot
		if err := tx.First(&s, "id = ?", slotID).Error; err != nil {
			return err
		}
		if s.Status != from {
			return ErrNotAvailable
		}
		s.Status = to
		s.HoldExpiresAt = nil
		if err := tx.Save(&s).Error; err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SlotRepo) ReleaseHold(ctx context.Context, slotID string) (*domain.Slot, error) {
	return r.transition(ctx, slotID, domain.SlotHeld, domain.SlotOpen)
}

func (r *SlotRepo) MarkBooked(ctx context.Context, slotID string) (*domain.Slot, error) {
	return r.transition(ctx, slotID, domain.SlotHeld, domain.SlotBooked)
}

func (r *SlotRepo) Reopen(ctx context.Context, slotID string) (*domain.Slot, error) {
	return r.transition(ctx, slotID, domain.SlotBooked, domain.SlotOpen)
}

// ExpireHolds reverts every timed-out hold to open.
func (r *SlotRepo) ExpireHolds(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Slot{}).
		Where("status = ? AND hold_expires_at < ?", domain.SlotHeld, now).
		Updates(map[string]any{"status": domain.SlotOpen, "hold_expires_at": nil})
	return res.RowsAffected, res.Error
}

// Block marks externally-owned unavailability. Open and held slots in
// the interval are truncated to their remainder; a booked slot is left
// alone and a Conflict row is recorded instead. Re-importing the same
// event uid is a no-op.
func (r *SlotRepo) Block(ctx context.Context, providerID string, start, end time.Time, externalUID string) (*domain.Slot, []domain.Conflict, error) {
	var block domain.Slot
	var conflicts []domain.Conflict
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Slot
		err := tx.Where("external_uid = ? AND status = ?", externalUID, domain.SlotBlocked).
			Take(&existing).Error
		if err == nil {
			block = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var inside []domain.Slot
		if err := tx.
			Where("provider_id = ? AND status IN ?", providerID,
				[]domain.SlotStatus{domain.SlotOpen, domain.SlotHeld, domain.SlotBooked}).
			Where("start_time < ? AND end_time > ?", end, start).
			Find(&inside).Error; err != nil {
			return err
		}
		for _, s := range inside {
			if s.Status == domain.SlotBooked {
				c := domain.Conflict{
					ProviderID:  providerID,
					SlotID:      s.ID,
					ExternalUID: externalUID,
					StartTime:   start,
					EndTime:     end,
					Status:      domain.ConflictOpen,
				}
				err := tx.Where("slot_id = ? AND external_uid = ?", s.ID, externalUID).
					Attrs(map[string]any{"id": uuid.NewString()}).
					FirstOrCreate(&c).Error
				if err != nil {
					return err
				}
				conflicts = append(conflicts, c)
				continue
			}
			// open or held: carve the blocked interval out
			if err := tx.Delete(&domain.Slot{}, "id = ?", s.ID).Error; err != nil {
				return err
			}
			for _, frag := range subtract(s.StartTime, s.EndTime, []interval{{start: start, end: end}}) {
				ns := domain.Slot{
					ID:         uuid.NewString(),
					ProviderID: providerID,
					StartTime:  frag.start,
					EndTime:    frag.end,
					Status:     domain.SlotOpen,
					Source:     s.Source,
				}
				if err := tx.Create(&ns).Error; err != nil {
					return err
				}
			}
		}

		block = domain.Slot{
			ID:          uuid.NewString(),
			ProviderID:  providerID,
			StartTime:   start,
			EndTime:     end,
			Status:      domain.SlotBlocked,
			Source:      domain.SourceExternal,
			ExternalUID: externalUID,
		}
		return tx.Create(&block).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &block, conflicts, nil
}

// Unblock removes the blocked slots for an event deleted upstream.
func (r *SlotRepo) Unblock(ctx context.Context, externalUID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("external_uid = ? AND status = ?", externalUID, domain.SlotBlocked).
		Delete(&domain.Slot{})
	return res.RowsAffected, res.Error
}

func (r *SlotRepo) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	qb := r.db.WithContext(ctx).Where("provider_id = ?", providerID)
	if !from.IsZero() {
		qb = qb.Where("end_time > ?", from)
	}
	if !to.IsZero() {
		qb = qb.Where("start_time < ?", to)
	}
	var out []domain.Slot
	err := qb.Order("start_time ASC").Find(&out).Error
	return out, err
}

func (r *SlotRepo) ListByStatus(ctx context.Context, status domain.SlotStatus) ([]domain.Slot, error) {
	var out []domain.Slot
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error
	return out, err
}

func (r *SlotRepo) OpenConflicts(ctx context.Context, providerID string) ([]domain.Conflict, error) {
	var out []domain.Conflict
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND status = ?", providerID, domain.ConflictOpen).
		Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *SlotRepo) ConflictByID(ctx context.Context, id string) (*domain.Conflict, error) {
	var c domain.Conflict
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SlotRepo) ResolveConflict(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Conflict{}).Where("id = ?", id).
		Update("status", domain.ConflictResolved).Error
}
