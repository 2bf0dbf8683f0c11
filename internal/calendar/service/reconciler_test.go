package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	avdomain "github.com/monoxchd/psicologia-platform-sub000/internal/availability/domain"
	avrepo "github.com/monoxchd/psicologia-platform-sub000/internal/availability/repository"
	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	bdomain "github.com/monoxchd/psicologia-platform-sub000/internal/booking/domain"
	brepo "github.com/monoxchd/psicologia-platform-sub000/internal/booking/repository"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/external"
	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/repository"
)

// fakeCalendar is an in-memory stand-in for the external calendar API.
type fakeCalendar struct {
	mu         sync.Mutex
	validToken string
	batches    map[string]listPage // cursor -> page
	created    []external.Event
	updated    []string
	deleted    []string
}

type listPage struct {
	events []external.Event
	next   string
}

func (f *fakeCalendar) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok != f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/events":
			page := f.batches[r.URL.Query().Get("cursor")]
			_ = json.NewEncoder(w).Encode(map[string]any{
				"events":      page.events,
				"next_cursor": page.next,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/events":
			var ev external.Event
			_ = json.NewDecoder(r.Body).Decode(&ev)
			ev.ID = fmt.Sprintf("srv-%d", len(f.created)+1)
			f.created = append(f.created, ev)
			_ = json.NewEncoder(w).Encode(ev)
		case r.Method == http.MethodPut:
			f.updated = append(f.updated, strings.TrimPrefix(r.URL.Path, "/events/"))
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete:
			f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/events/"))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// fakeTokens is the OAuth token endpoint.
type fakeTokens struct {
	mu          sync.Mutex
	denyRefresh bool
	refreshes   int
}

func (f *fakeTokens) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1", "refresh_token": "ref-1",
				"expires_in": 3600, "account": "dr.prov@example.com",
			})
		case "refresh_token":
			if f.denyRefresh {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.refreshes++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-2", "refresh_token": "ref-2", "expires_in": 3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

type recFixture struct {
	rec      *Reconciler
	links    *repository.LinkRepo
	slots    *avsvc.AvailabilitySvc
	bookings *brepo.BookingRepo
	cal      *fakeCalendar
	tokens   *fakeTokens
}

func newRecFixture(t *testing.T) *recFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	links := repository.NewLinkRepo(gdb)
	require.NoError(t, links.Migrate())
	slotRepo := avrepo.NewSlotRepo(gdb)
	require.NoError(t, slotRepo.Migrate())
	slots := avsvc.NewAvailabilitySvc(slotRepo, nil, 5*time.Minute)
	bookings := brepo.NewBookingRepo(gdb)
	require.NoError(t, bookings.Migrate())

	cal := &fakeCalendar{validToken: "tok-1", batches: map[string]listPage{}}
	calSrv := httptest.NewServer(cal.handler())
	t.Cleanup(calSrv.Close)
	tokens := &fakeTokens{}
	tokSrv := httptest.NewServer(tokens.handler())
	t.Cleanup(tokSrv.Close)

	oauth := external.NewOAuth(external.OAuthConfig{
		ClientID: "cid", ClientSecret: "sec",
		RedirectURL: "http://localhost/cb",
		AuthURL:     tokSrv.URL + "/auth",
		TokenURL:    tokSrv.URL + "/token",
	})
	rec := NewReconciler(links, external.NewClient(calSrv.URL), oauth, slots, bookings)
	return &recFixture{rec: rec, links: links, slots: slots, bookings: bookings, cal: cal, tokens: tokens}
}

func (f *recFixture) connectedLink(t *testing.T, providerID string) {
	t.Helper()
	require.NoError(t, f.links.Upsert(context.Background(), &domain.CalendarLink{
		ProviderID:  providerID,
		AccessToken: "tok-1", RefreshToken: "ref-1",
		TokenExpiry: time.Now().UTC().Add(time.Hour),
		Status:      domain.LinkConnected,
	}))
}

func evt(t *testing.T, uid, start, end, status string) external.Event {
	t.Helper()
	s, err := time.Parse(time.RFC3339, "2026-09-01T"+start+":00Z")
	require.NoError(t, err)
	e, err := time.Parse(time.RFC3339, "2026-09-01T"+end+":00Z")
	require.NoError(t, err)
	return external.Event{UID: uid, Summary: "busy", StartTime: s, EndTime: e, Status: status}
}

func TestConnectStoresTokenPair(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()

	l, err := f.rec.Connect(ctx, "prov", "auth-code")
	require.NoError(t, err)
	require.Equal(t, domain.LinkConnected, l.Status)
	require.Equal(t, "dr.prov@example.com", l.ExternalAccount)

	got, err := f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, "tok-1", got.AccessToken)
	require.Equal(t, "ref-1", got.RefreshToken)
}

func TestLoginURLCarriesProviderState(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()

	u, err := f.rec.LoginURL(ctx, "prov")
	require.NoError(t, err)
	require.Contains(t, u, "state=prov")
	require.Contains(t, u, "access_type=offline")

	// the round-trip in flight is visible as a connecting placeholder
	l, err := f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, domain.LinkConnecting, l.Status)

	// finishing the dance replaces it; restarting the flow does not
	// regress an established link
	_, err = f.rec.Connect(ctx, "prov", "auth-code")
	require.NoError(t, err)
	_, err = f.rec.LoginURL(ctx, "prov")
	require.NoError(t, err)
	l, err = f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, domain.LinkConnected, l.Status)
}

func TestImportBlocksAndAdvancesCursor(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	f.cal.batches[""] = listPage{
		events: []external.Event{evt(t, "ev-1", "09:00", "10:00", "confirmed")},
		next:   "c1",
	}
	f.cal.batches["c1"] = listPage{next: "c1"}

	n, err := f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	slots, err := f.slots.ListByProvider(ctx, "prov", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, avdomain.SlotBlocked, slots[0].Status)
	require.Equal(t, "ev-1", slots[0].ExternalUID)

	l, err := f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, "c1", l.SyncCursor)

	// next run starts from the cursor and finds nothing new
	n, err = f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestImportIsIdempotent(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	f.cal.batches[""] = listPage{
		events: []external.Event{evt(t, "ev-1", "09:00", "10:00", "confirmed")},
	}

	for i := 0; i < 3; i++ {
		_, err := f.rec.ImportSince(ctx, "prov")
		require.NoError(t, err)
	}

	slots, err := f.slots.ListByProvider(ctx, "prov", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
}

func TestImportSkipsOwnExports(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	ours := evt(t, "booking-abc", "09:00", "10:00", "confirmed")
	ours.BookingID = "abc"
	f.cal.batches[""] = listPage{events: []external.Event{ours}}

	n, err := f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)
	require.Zero(t, n)

	slots, err := f.slots.ListByProvider(ctx, "prov", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestImportCancelledEventUnblocks(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	f.cal.batches[""] = listPage{
		events: []external.Event{evt(t, "ev-1", "09:00", "10:00", "confirmed")},
		next:   "c1",
	}
	f.cal.batches["c1"] = listPage{
		events: []external.Event{evt(t, "ev-1", "09:00", "10:00", "cancelled")},
		next:   "c2",
	}

	_, err := f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)
	_, err = f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)

	slots, err := f.slots.ListByProvider(ctx, "prov", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestStaleTokenRefreshedOnce(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	// the stored token is no longer accepted upstream
	f.cal.mu.Lock()
	f.cal.validToken = "tok-2"
	f.cal.batches[""] = listPage{events: []external.Event{evt(t, "ev-1", "09:00", "10:00", "confirmed")}}
	f.cal.mu.Unlock()

	n, err := f.rec.ImportSince(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	f.tokens.mu.Lock()
	require.Equal(t, 1, f.tokens.refreshes)
	f.tokens.mu.Unlock()

	l, err := f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, "tok-2", l.AccessToken)
	require.Equal(t, domain.LinkConnected, l.Status)
}

func TestRefreshDeniedDisconnectsLink(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")
	f.tokens.denyRefresh = true

	// expired access token forces a refresh attempt
	require.NoError(t, f.links.UpdateTokens(ctx, "prov", "tok-1", "ref-1", time.Now().UTC().Add(-time.Minute)))

	_, err := f.rec.ImportSince(ctx, "prov")
	require.ErrorIs(t, err, ErrReauthorizationRequired)

	l, err := f.rec.Link(ctx, "prov")
	require.NoError(t, err)
	require.Equal(t, domain.LinkDisconnected, l.Status)
}

func TestExportBookingCreateThenUpdate(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	b := &bdomain.Booking{
		ID: uuid.NewString(), ClientID: "alice", ProviderID: "prov",
		SlotID: uuid.NewString(), Status: bdomain.StatusConfirmed,
		StartTime: time.Now().UTC().Add(time.Hour),
		EndTime:   time.Now().UTC().Add(2 * time.Hour),
	}
	require.NoError(t, f.bookings.Create(ctx, b))

	require.NoError(t, f.rec.ExportBooking(ctx, b.ID))
	require.Len(t, f.cal.created, 1)
	require.Equal(t, b.ID, f.cal.created[0].BookingID)

	got, err := f.bookings.ByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "srv-1", got.ExternalEventID)

	// re-delivery updates the existing event instead of duplicating it
	require.NoError(t, f.rec.ExportBooking(ctx, b.ID))
	require.Len(t, f.cal.created, 1)
	require.Equal(t, []string{"srv-1"}, f.cal.updated)
}

func TestRemoveExportDeletesEvent(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()
	f.connectedLink(t, "prov")

	b := &bdomain.Booking{
		ID: uuid.NewString(), ClientID: "alice", ProviderID: "prov",
		SlotID: uuid.NewString(), Status: bdomain.StatusCancelled,
		ExternalEventID: "srv-9",
	}
	require.NoError(t, f.bookings.Create(ctx, b))

	require.NoError(t, f.rec.RemoveExport(ctx, b.ID))
	require.Equal(t, []string{"srv-9"}, f.cal.deleted)

	// a booking never exported is a no-op
	b2 := &bdomain.Booking{ID: uuid.NewString(), ProviderID: "prov", Status: bdomain.StatusCancelled}
	require.NoError(t, f.bookings.Create(ctx, b2))
	require.NoError(t, f.rec.RemoveExport(ctx, b2.ID))
	require.Len(t, f.cal.deleted, 1)
}

func TestConsumedEventsDeduped(t *testing.T) {
	f := newRecFixture(t)
	ctx := context.Background()

	fresh, err := f.rec.MarkConsumed(ctx, "bk-1", "booking.confirmed")
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = f.rec.MarkConsumed(ctx, "bk-1", "booking.confirmed")
	require.NoError(t, err)
	require.False(t, fresh)

	fresh, err = f.rec.MarkConsumed(ctx, "bk-1", "booking.cancelled")
	require.NoError(t, err)
	require.True(t, fresh)
}
