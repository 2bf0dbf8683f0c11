package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	avdomain "github.com/monoxchd/psicologia-platform-sub000/internal/availability/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/booking/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/booking/repository"
	ldomain "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/obs"
)

var (
	ErrTooLate       = errors.New("too_late_to_cancel")
	ErrNotYours      = errors.New("not_your_booking")
	ErrBadDuration   = errors.New("bad_duration")
	ErrNotCancelable = errors.New("booking_not_cancelable")
)

// CreditLedger is the slice of the ledger the engine needs. Spend must
// be atomic with its balance check and idempotent per booking.
type CreditLedger interface {
	Spend(ctx context.Context, accountID string, credits int64, bookingID string) error
	Refund(ctx context.Context, accountID string, credits int64, bookingID string) error
	HasSpend(ctx context.Context, bookingID string) (bool, error)
	AllSpends(ctx context.Context) ([]ldomain.CreditTransaction, error)
}

// SlotStore is the slice of the availability store the engine needs.
type SlotStore interface {
	SlotByID(ctx context.Context, id string) (*avdomain.Slot, error)
	Hold(ctx context.Context, slotID string) (*avdomain.Slot, error)
	Release(ctx context.Context, slotID string) error
	Book(ctx context.Context, slotID string) error
	Reopen(ctx context.Context, slotID string) error
	BookedSlots(ctx context.Context) ([]avdomain.Slot, error)
}

type RateSource interface {
	RatePerMinute(ctx context.Context, providerID string) (int64, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type BookingSvc struct {
	repo   *repository.BookingRepo
	ledger CreditLedger
	slots  SlotStore
	rates  RateSource
	pub    Publisher
	grace  time.Duration
}

func NewBookingSvc(r *repository.BookingRepo, ledger CreditLedger, slots SlotStore, rates RateSource, pub Publisher, grace time.Duration) *BookingSvc {
	return &BookingSvc{repo: r, ledger: ledger, slots: slots, rates: rates, pub: pub, grace: grace}
}

// Reserve runs hold → debit → commit. The hold is the only side effect
// in flight while the ledger decides; a debit failure releases it, so
// the slot is never booked without a spend and credits are never taken
// without a held slot.
func (s *BookingSvc) Reserve(ctx context.Context, clientID, slotID string, durationMin int) (*domain.Booking, error) {
	if durationMin <= 0 {
		return nil, ErrBadDuration
	}
	slot, err := s.slots.SlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if maxMin := int(slot.EndTime.Sub(slot.StartTime) / time.Minute); durationMin > maxMin {
		return nil, ErrBadDuration
	}
	rate, err := s.rates.RatePerMinute(ctx, slot.ProviderID)
	if err != nil {
		return nil, err
	}
	cost := int64(durationMin) * rate

	held, err := s.slots.Hold(ctx, slotID)
	if err != nil {
		return nil, err
	}

	bookingID := uuid.NewString()
	if err := s.ledger.Spend(ctx, clientID, cost, bookingID); err != nil {
		if relErr := s.slots.Release(ctx, slotID); relErr != nil {
			log.Printf("[booking] FAULT release hold slot=%s: %v", slotID, relErr)
		}
		return nil, err
	}

	if err := s.slots.Book(ctx, slotID); err != nil {
		// debit landed but the commit did not; undo the debit and
		// surface the failure rather than leaving a torn state.
		log.Printf("[booking] FAULT book after debit slot=%s: %v", slotID, err)
		if refErr := s.ledger.Refund(ctx, clientID, cost, bookingID); refErr != nil {
			log.Printf("[booking] FAULT refund after failed commit booking=%s: %v", bookingID, refErr)
		}
		return nil, err
	}

	b := &domain.Booking{
		ID:             bookingID,
		ClientID:       clientID,
		ProviderID:     held.ProviderID,
		SlotID:         slotID,
		StartTime:      held.StartTime,
		EndTime:        held.EndTime,
		DurationMin:    durationMin,
		CreditCost:     cost,
		Status:         domain.StatusConfirmed,
		CancelDeadline: held.StartTime.Add(-s.grace),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	obs.BookingsReserved.Inc()
	obs.CreditsSpent.Add(float64(cost))
	if s.pub != nil {
		_ = s.pub.PublishJSON(ctx, "booking.confirmed", map[string]any{
			"booking_id": b.ID, "client_id": b.ClientID, "provider_id": b.ProviderID,
			"slot_id": b.SlotID, "start": b.StartTime.Unix(), "end": b.EndTime.Unix(),
			"credit_cost": b.CreditCost,
		})
	}
	return b, nil
}

// Cancel refunds the full snapshot cost when policy allows. Clients are
// bound by the deadline; providers may cancel any time and always
// trigger the refund.
func (s *BookingSvc) Cancel(ctx context.Context, bookingID, requestedBy string, role ldomain.Role) (*domain.Booking, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch role {
	case ldomain.RoleClient:
		if b.ClientID != requestedBy {
			return nil, ErrNotYours
		}
	case ldomain.RoleProvider:
		if b.ProviderID != requestedBy {
			return nil, ErrNotYours
		}
	}
	if b.Status != domain.StatusConfirmed {
		return nil, ErrNotCancelable
	}
	if role == ldomain.RoleClient && time.Now().After(b.CancelDeadline) {
		return nil, ErrTooLate
	}

	if err := s.ledger.Refund(ctx, b.ClientID, b.CreditCost, b.ID); err != nil {
		return nil, err
	}
	if err := s.slots.Reopen(ctx, b.SlotID); err != nil {
		log.Printf("[booking] FAULT reopen slot=%s after cancel: %v", b.SlotID, err)
	}
	b, err = s.repo.UpdateStatus(ctx, b.ID, domain.StatusCancelled)
	if err != nil {
		return nil, err
	}
	obs.BookingsCancelled.Inc()
	if s.pub != nil {
		_ = s.pub.PublishJSON(ctx, "booking.cancelled", map[string]any{
			"booking_id": b.ID, "provider_id": b.ProviderID,
			"external_event_id": b.ExternalEventID,
		})
	}
	return b, nil
}

// MarkNoShow forfeits the client's credits: the model charges at
// booking time, and absence is not a refund event.
func (s *BookingSvc) MarkNoShow(ctx context.Context, bookingID, providerID string) (*domain.Booking, error) {
	b, err := s.repo.ByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != providerID {
		return nil, ErrNotYours
	}
	if b.Status != domain.StatusConfirmed || time.Now().Before(b.StartTime) {
		return nil, ErrNotCancelable
	}
	return s.repo.UpdateStatus(ctx, b.ID, domain.StatusNoShow)
}

func (s *BookingSvc) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return s.repo.ByID(ctx, id)
}

func (s *BookingSvc) BySlot(ctx context.Context, slotID string) (*domain.Booking, error) {
	return s.repo.BySlotID(ctx, slotID)
}

func (s *BookingSvc) SetExternalEventID(ctx context.Context, id, eventID string) error {
	return s.repo.SetExternalEventID(ctx, id, eventID)
}

func (s *BookingSvc) List(ctx context.Context, page, size int32, clientID, providerID string) ([]domain.Booking, int64, error) {
	return s.repo.List(ctx, page, size, clientID, providerID)
}

// CompleteDue transitions past sessions to completed; credits were
// spent at reservation time so there is no ledger effect.
func (s *BookingSvc) CompleteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.DueCompletion(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, b := range due {
		if _, err := s.repo.UpdateStatus(ctx, b.ID, domain.StatusCompleted); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

// Reconcile cross-checks booked slots against spend transactions in
// both directions. Mismatches are faults for an operator; auto-repair
// could double-charge or double-refund a real person.
func (s *BookingSvc) Reconcile(ctx context.Context) (int, error) {
	faults := 0

	booked, err := s.slots.BookedSlots(ctx)
	if err != nil {
		return 0, err
	}
	for _, slot := range booked {
		b, err := s.repo.BySlotID(ctx, slot.ID)
		if err != nil {
			faults++
			obs.ReconcileFaults.Inc()
			log.Printf("[booking] FAULT booked slot=%s has no booking", slot.ID)
			continue
		}
		ok, err := s.ledger.HasSpend(ctx, b.ID)
		if err != nil {
			return faults, err
		}
		if !ok {
			faults++
			obs.ReconcileFaults.Inc()
			log.Printf("[booking] FAULT booking=%s booked without spend", b.ID)
		}
	}

	spends, err := s.ledger.AllSpends(ctx)
	if err != nil {
		return faults, err
	}
	for _, t := range spends {
		if _, err := s.repo.ByID(ctx, t.Reference); err != nil {
			faults++
			obs.ReconcileFaults.Inc()
			log.Printf("[booking] FAULT spend tx=%s references missing booking=%s", t.ID, t.Reference)
		}
	}
	return faults, nil
}
