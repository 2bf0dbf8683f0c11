package service

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	avdomain "github.com/monoxchd/psicologia-platform-sub000/internal/availability/domain"
	bdomain "github.com/monoxchd/psicologia-platform-sub000/internal/booking/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/external"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/repository"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/obs"
)

var ErrReauthorizationRequired = errors.New("reauthorization_required")

// refreshSkew is how long before expiry a token counts as expiring.
const refreshSkew = 5 * time.Minute

type CalendarAPI interface {
	ListEvents(ctx context.Context, token, cursor string) ([]external.Event, string, error)
	CreateEvent(ctx context.Context, token string, ev external.Event) (string, error)
	UpdateEvent(ctx context.Context, token, id string, ev external.Event) error
	DeleteEvent(ctx context.Context, token, id string) error
}

type TokenSource interface {
	LoginURL(state string) string
	Exchange(ctx context.Context, code string) (*external.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*external.Token, error)
}

type SlotBlocker interface {
	BlockInterval(ctx context.Context, providerID string, start, end time.Time, externalUID string) ([]avdomain.Conflict, error)
	Unblock(ctx context.Context, externalUID string) error
}

type BookingStore interface {
	ByID(ctx context.Context, id string) (*bdomain.Booking, error)
	SetExternalEventID(ctx context.Context, id, eventID string) error
}

type Reconciler struct {
	links    *repository.LinkRepo
	cal      CalendarAPI
	oauth    TokenSource
	slots    SlotBlocker
	bookings BookingStore
}

func NewReconciler(links *repository.LinkRepo, cal CalendarAPI, oauth TokenSource, slots SlotBlocker, bookings BookingStore) *Reconciler {
	return &Reconciler{links: links, cal: cal, oauth: oauth, slots: slots, bookings: bookings}
}

// LoginURL starts the OAuth round-trip. A provider with no link yet
// gets a connecting placeholder, so the flow is visible while the user
// is away at the consent screen. An existing link is left untouched
// until the callback lands.
func (r *Reconciler) LoginURL(ctx context.Context, providerID string) (string, error) {
	if _, err := r.links.ByProvider(ctx, providerID); errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.links.Upsert(ctx, &domain.CalendarLink{
			ProviderID: providerID,
			Status:     domain.LinkConnecting,
		}); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return r.oauth.LoginURL(providerID), nil
}

// Connect finishes the OAuth dance and stores the token pair.
func (r *Reconciler) Connect(ctx context.Context, providerID, code string) (*domain.CalendarLink, error) {
	tok, err := r.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	l := &domain.CalendarLink{
		ProviderID:      providerID,
		ExternalAccount: tok.Account,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		TokenExpiry:     tok.Expiry,
		Status:          domain.LinkConnected,
	}
	if err := r.links.Upsert(ctx, l); err != nil {
		return nil, err
	}
	log.Printf("[reconciler] provider=%s connected account=%s", providerID, tok.Account)
	return l, nil
}

func (r *Reconciler) Disconnect(ctx context.Context, providerID string) error {
	return r.links.Delete(ctx, providerID)
}

func (r *Reconciler) Link(ctx context.Context, providerID string) (*domain.CalendarLink, error) {
	return r.links.ByProvider(ctx, providerID)
}

// RefreshToken renews the link's access token; a denied refresh means
// the provider revoked us externally, so the link is invalidated and
// the caller gets ErrReauthorizationRequired to pass along.
func (r *Reconciler) RefreshToken(ctx context.Context, providerID string) error {
	l, err := r.links.ByProvider(ctx, providerID)
	if err != nil {
		return err
	}
	tok, err := r.oauth.Refresh(ctx, l.RefreshToken)
	if err != nil {
		if errors.Is(err, external.ErrRefreshDenied) {
			_ = r.links.SetStatus(ctx, providerID, domain.LinkDisconnected)
			return ErrReauthorizationRequired
		}
		return err
	}
	return r.links.UpdateTokens(ctx, providerID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
}

// token returns a usable access token, refreshing proactively when the
// current one is about to expire.
func (r *Reconciler) token(ctx context.Context, l *domain.CalendarLink) (string, error) {
	if l.Status == domain.LinkDisconnected {
		return "", ErrReauthorizationRequired
	}
	if time.Until(l.TokenExpiry) > refreshSkew {
		return l.AccessToken, nil
	}
	_ = r.links.SetStatus(ctx, l.ProviderID, domain.LinkTokenExpired)
	if err := r.RefreshToken(ctx, l.ProviderID); err != nil {
		return "", err
	}
	fresh, err := r.links.ByProvider(ctx, l.ProviderID)
	if err != nil {
		return "", err
	}
	*l = *fresh
	return l.AccessToken, nil
}

// call runs one API call, retrying transient failures with backoff and
// recovering exactly once from a stale-token 401 before giving up.
func (r *Reconciler) call(ctx context.Context, l *domain.CalendarLink, fn func(token string) error) error {
	tok, err := r.token(ctx, l)
	if err != nil {
		return err
	}
	err = external.WithRetry(ctx, func() error { return fn(tok) })
	if !errors.Is(err, external.ErrUnauthorized) {
		return err
	}
	if err := r.RefreshToken(ctx, l.ProviderID); err != nil {
		return err
	}
	fresh, err := r.links.ByProvider(ctx, l.ProviderID)
	if err != nil {
		return err
	}
	*l = *fresh
	return external.WithRetry(ctx, func() error { return fn(l.AccessToken) })
}

// ImportSince pulls events changed since the stored cursor and writes
// blocks for externally-created busy time. The cursor only advances
// after the whole batch landed; re-delivery is safe because blocking
// an already-blocked interval is a no-op.
func (r *Reconciler) ImportSince(ctx context.Context, providerID string) (int, error) {
	l, err := r.links.ByProvider(ctx, providerID)
	if err != nil {
		return 0, err
	}

	var evs []external.Event
	var next string
	err = r.call(ctx, l, func(token string) error {
		var lerr error
		evs, next, lerr = r.cal.ListEvents(ctx, token, l.SyncCursor)
		return lerr
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, ev := range evs {
		if ev.BookingID != "" {
			// our own export coming back; not an external block
			obs.ImportedEvents.WithLabelValues("skipped").Inc()
			continue
		}
		switch ev.Status {
		case "cancelled":
			if err := r.slots.Unblock(ctx, ev.UID); err != nil {
				return handled, err
			}
			obs.ImportedEvents.WithLabelValues("unblocked").Inc()
		default:
			if _, err := r.slots.BlockInterval(ctx, providerID, ev.StartTime, ev.EndTime, ev.UID); err != nil {
				return handled, err
			}
			obs.ImportedEvents.WithLabelValues("blocked").Inc()
		}
		handled++
	}

	if next != "" && next != l.SyncCursor {
		if err := r.links.AdvanceCursor(ctx, providerID, next, time.Now().UTC()); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

// ImportAll syncs every linked provider; one slow or broken link never
// blocks the rest.
func (r *Reconciler) ImportAll(ctx context.Context) error {
	links, err := r.links.AllConnected(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, l := range links {
		g.Go(func() error {
			if _, err := r.ImportSince(ctx, l.ProviderID); err != nil {
				log.Printf("[reconciler] import provider=%s: %v", l.ProviderID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ExportBooking pushes a confirmed booking to the provider's external
// calendar. Re-sending updates the already-created event instead of
// duplicating it.
func (r *Reconciler) ExportBooking(ctx context.Context, bookingID string) error {
	b, err := r.bookings.ByID(ctx, bookingID)
	if err != nil {
		return err
	}
	l, err := r.links.ByProvider(ctx, b.ProviderID)
	if err != nil {
		return err
	}
	ev := external.Event{
		UID:       "booking-" + b.ID,
		Summary:   "Therapy session",
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Status:    "confirmed",
		BookingID: b.ID,
	}
	if b.ExternalEventID != "" {
		return r.call(ctx, l, func(token string) error {
			return r.cal.UpdateEvent(ctx, token, b.ExternalEventID, ev)
		})
	}
	var id string
	err = r.call(ctx, l, func(token string) error {
		var cerr error
		id, cerr = r.cal.CreateEvent(ctx, token, ev)
		return cerr
	})
	if err != nil {
		return err
	}
	obs.ExportedEvents.Inc()
	return r.bookings.SetExternalEventID(ctx, b.ID, id)
}

// RemoveExport deletes the external event of a cancelled booking.
func (r *Reconciler) RemoveExport(ctx context.Context, bookingID string) error {
	b, err := r.bookings.ByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.ExternalEventID == "" {
		return nil
	}
	l, err := r.links.ByProvider(ctx, b.ProviderID)
	if err != nil {
		return err
	}
	return r.call(ctx, l, func(token string) error {
		return r.cal.DeleteEvent(ctx, token, b.ExternalEventID)
	})
}

// RefreshExpiring proactively renews tokens close to expiry.
func (r *Reconciler) RefreshExpiring(ctx context.Context) error {
	links, err := r.links.ExpiringBefore(ctx, time.Now().UTC().Add(refreshSkew))
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := r.RefreshToken(ctx, l.ProviderID); err != nil {
			log.Printf("[reconciler] refresh provider=%s: %v", l.ProviderID, err)
		}
	}
	return nil
}

// MarkConsumed exposes the consumed-event dedupe to the MQ consumer.
// The same booking may legitimately appear under different routing
// keys, so the key is part of the identity.
func (r *Reconciler) MarkConsumed(ctx context.Context, eventID, key string) (bool, error) {
	return r.links.MarkConsumed(ctx, key+":"+eventID, key)
}

// Consumed is the read-only side of the dedupe, for skipping
// redeliveries without claiming them.
func (r *Reconciler) Consumed(ctx context.Context, eventID, key string) (bool, error) {
	return r.links.Consumed(ctx, key+":"+eventID)
}
