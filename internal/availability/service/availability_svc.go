package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/monoxchd/psicologia-platform-sub000/internal/availability/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/availability/repository"
	"github.com/monoxchd/psicologia-platform-sub000/internal/lock"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/obs"
)

var ErrBadInterval = errors.New("end must be after start")

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// AvailabilitySvc serializes all slot mutations per provider; a client
// reserving and a calendar import blocking can never interleave on the
// same provider's slot set.
type AvailabilitySvc struct {
	repo    *repository.SlotRepo
	locks   *lock.Keyed
	pub     Publisher
	holdTTL time.Duration
}

func NewAvailabilitySvc(r *repository.SlotRepo, pub Publisher, holdTTL time.Duration) *AvailabilitySvc {
	return &AvailabilitySvc{repo: r, locks: lock.NewKeyed(), pub: pub, holdTTL: holdTTL}
}

func (s *AvailabilitySvc) Declare(ctx context.Context, providerID string, start, end time.Time) ([]domain.Slot, error) {
	if !end.After(start) {
		return nil, ErrBadInterval
	}
	unlock := s.locks.Acquire(providerID)
	defer unlock()
	return s.repo.Declare(ctx, providerID, start.UTC(), end.UTC())
}

func (s *AvailabilitySvc) SlotByID(ctx context.Context, id string) (*domain.Slot, error) {
	return s.repo.ByID(ctx, id)
}

func (s *AvailabilitySvc) Hold(ctx context.Context, slotID string) (*domain.Slot, error) {
	slot, err := s.repo.ByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Acquire(slot.ProviderID)
	defer unlock()
	return s.repo.Hold(ctx, slotID, s.holdTTL)
}

func (s *AvailabilitySvc) Release(ctx context.Context, slotID string) error {
	slot, err := s.repo.ByID(ctx, slotID)
	if err != nil {
		return err
	}
	unlock := s.locks.Acquire(slot.ProviderID)
	defer unlock()
	_, err = s.repo.ReleaseHold(ctx, slotID)
	return err
}

func (s *AvailabilitySvc) Book(ctx context.Context, slotID string) error {
	slot, err := s.repo.ByID(ctx, slotID)
	if err != nil {
		return err
	}
	unlock := s.locks.Acquire(slot.ProviderID)
	defer unlock()
	_, err = s.repo.MarkBooked(ctx, slotID)
	return err
}

func (s *AvailabilitySvc) Reopen(ctx context.Context, slotID string) error {
	slot, err := s.repo.ByID(ctx, slotID)
	if err != nil {
		return err
	}
	unlock := s.locks.Acquire(slot.ProviderID)
	defer unlock()
	_, err = s.repo.Reopen(ctx, slotID)
	return err
}

// BlockInterval is the reconciler's entry for externally-owned busy
// time. Conflicts with booked slots are recorded and announced, never
// auto-cancelled.
func (s *AvailabilitySvc) BlockInterval(ctx context.Context, providerID string, start, end time.Time, externalUID string) ([]domain.Conflict, error) {
	if !end.After(start) {
		return nil, ErrBadInterval
	}
	unlock := s.locks.Acquire(providerID)
	_, conflicts, err := s.repo.Block(ctx, providerID, start.UTC(), end.UTC(), externalUID)
	unlock()
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		log.Printf("[availability] conflict provider=%s slot=%s event=%s", providerID, c.SlotID, externalUID)
		obs.ImportedEvents.WithLabelValues("conflict").Inc()
		if s.pub != nil {
			_ = s.pub.PublishJSON(ctx, "calendar.conflict", map[string]any{
				"conflict_id": c.ID, "provider_id": providerID,
				"slot_id": c.SlotID, "external_uid": externalUID,
			})
		}
	}
	return conflicts, nil
}

func (s *AvailabilitySvc) Unblock(ctx context.Context, externalUID string) error {
	_, err := s.repo.Unblock(ctx, externalUID)
	return err
}

// ExpireHolds is the sweep entry; holds never depend on the
// requester's connection staying alive.
func (s *AvailabilitySvc) ExpireHolds(ctx context.Context) error {
	n, err := s.repo.ExpireHolds(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		obs.HoldsExpired.Add(float64(n))
		log.Printf("[availability] released %d expired holds", n)
	}
	return nil
}

func (s *AvailabilitySvc) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]domain.Slot, error) {
	return s.repo.ListByProvider(ctx, providerID, from, to)
}

func (s *AvailabilitySvc) BookedSlots(ctx context.Context) ([]domain.Slot, error) {
	return s.repo.ListByStatus(ctx, domain.SlotBooked)
}

func (s *AvailabilitySvc) OpenConflicts(ctx context.Context, providerID string) ([]domain.Conflict, error) {
	return s.repo.OpenConflicts(ctx, providerID)
}

func (s *AvailabilitySvc) ConflictByID(ctx context.Context, id string) (*domain.Conflict, error) {
	return s.repo.ConflictByID(ctx, id)
}

func (s *AvailabilitySvc) ResolveConflict(ctx context.Context, id string) error {
	return s.repo.ResolveConflict(ctx, id)
}
