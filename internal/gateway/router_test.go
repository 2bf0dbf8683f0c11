package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	avrepo "github.com/monoxchd/psicologia-platform-sub000/internal/availability/repository"
	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	brepo "github.com/monoxchd/psicologia-platform-sub000/internal/booking/repository"
	bsvc "github.com/monoxchd/psicologia-platform-sub000/internal/booking/service"
	calrepo "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/repository"
	calsvc "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
	lrepo "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/repository"
	lsvc "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/service"
	pdomain "github.com/monoxchd/psicologia-platform-sub000/internal/payment/domain"
	psvc "github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"
	provrepo "github.com/monoxchd/psicologia-platform-sub000/internal/provider/repository"
	provsvc "github.com/monoxchd/psicologia-platform-sub000/internal/provider/service"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/auth"
)

// stubCharger settles every charge synchronously.
type stubCharger struct{}

func (stubCharger) Charge(_ context.Context, _ string, pkg pdomain.CreditPackage, _ string) (string, string, error) {
	return "chg_" + pkg.Code, "successful", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	ledgerRepo := lrepo.NewLedgerRepo(gdb)
	require.NoError(t, ledgerRepo.Migrate())
	ledger := lsvc.NewLedgerSvc(ledgerRepo, nil, 182*24*time.Hour, 10)

	providerRepo := provrepo.NewProviderRepo(gdb)
	require.NoError(t, providerRepo.Migrate())
	providers := provsvc.NewProviderSvc(providerRepo)

	slotRepo := avrepo.NewSlotRepo(gdb)
	require.NoError(t, slotRepo.Migrate())
	availability := avsvc.NewAvailabilitySvc(slotRepo, nil, 5*time.Minute)

	bookingRepo := brepo.NewBookingRepo(gdb)
	require.NoError(t, bookingRepo.Migrate())
	bookings := bsvc.NewBookingSvc(bookingRepo, ledger, availability, providers, nil, 24*time.Hour)

	linkRepo := calrepo.NewLinkRepo(gdb)
	require.NoError(t, linkRepo.Migrate())
	reconciler := calsvc.NewReconciler(linkRepo, nil, nil, availability, bookingRepo)

	payments := psvc.NewPaymentSvc(stubCharger{}, ledger, nil)

	return NewRouter(Deps{
		Ledger:       ledger,
		Providers:    providers,
		Availability: availability,
		Bookings:     bookings,
		Reconciler:   reconciler,
		Payments:     payments,
	})
}

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := auth.CreateAccessToken(sub, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func doJSON(t *testing.T, r *gin.Engine, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/credits/balance", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code) // not under /v1
	w = doJSON(t, r, http.MethodGet, "/v1/credits/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(t, r, http.MethodGet, "/v1/credits/balance", "Bearer garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGates(t *testing.T) {
	r := newTestRouter(t)
	client := bearer(t, "alice", "CLIENT")

	w := doJSON(t, r, http.MethodPost, "/v1/providers/me/slots", client, gin.H{
		"start_iso": "2026-10-01T09:00:00Z", "end_iso": "2026-10-01T10:00:00Z",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/credits/earn", client, gin.H{
		"account_id": "alice", "article_id": "a1", "credits": 5,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPurchaseReserveCancelFlow(t *testing.T) {
	r := newTestRouter(t)
	prov := bearer(t, "prov", "PROVIDER")
	client := bearer(t, "alice", "CLIENT")

	w := doJSON(t, r, http.MethodPut, "/v1/providers/me", prov, gin.H{
		"display_name": "Dr. Prov", "rate_per_minute": 1, "timezone": "UTC",
	})
	require.Equal(t, http.StatusOK, w.Code)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	w = doJSON(t, r, http.MethodPost, "/v1/providers/me/slots", prov, gin.H{
		"start_iso": start.Format(time.RFC3339),
		"end_iso":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var declared struct {
		Slots []struct {
			ID string `json:"ID"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &declared))
	require.Len(t, declared.Slots, 1)
	slotID := declared.Slots[0].ID

	// the starter package grants 60 credits
	w = doJSON(t, r, http.MethodPost, "/v1/credits/purchase", client, gin.H{
		"package_code": "starter", "card_token": "tok_visa",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/credits/balance", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	require.EqualValues(t, 60, bal.Balance)

	w = doJSON(t, r, http.MethodPost, "/v1/bookings", client, gin.H{
		"slot_id": slotID, "duration_min": 50,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var booking struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))

	w = doJSON(t, r, http.MethodGet, "/v1/credits/balance", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	require.EqualValues(t, 10, bal.Balance)

	// a second client cannot take the same slot
	other := bearer(t, "bob", "CLIENT")
	w = doJSON(t, r, http.MethodPost, "/v1/credits/purchase", other, gin.H{
		"package_code": "starter", "card_token": "tok_visa",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, r, http.MethodPost, "/v1/bookings", other, gin.H{
		"slot_id": slotID, "duration_min": 30,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/bookings/"+booking.ID+"/cancel", client, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/credits/balance", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	require.EqualValues(t, 60, bal.Balance)
}

func TestInsufficientBalanceMapsTo402(t *testing.T) {
	r := newTestRouter(t)
	prov := bearer(t, "prov", "PROVIDER")
	client := bearer(t, "alice", "CLIENT")

	w := doJSON(t, r, http.MethodPut, "/v1/providers/me", prov, gin.H{
		"display_name": "Dr. Prov", "rate_per_minute": 2, "timezone": "UTC",
	})
	require.Equal(t, http.StatusOK, w.Code)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	w = doJSON(t, r, http.MethodPost, "/v1/providers/me/slots", prov, gin.H{
		"start_iso": start.Format(time.RFC3339),
		"end_iso":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var declared struct {
		Slots []struct {
			ID string `json:"ID"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &declared))

	w = doJSON(t, r, http.MethodPost, "/v1/bookings", client, gin.H{
		"slot_id": declared.Slots[0].ID, "duration_min": 30,
	})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestCannotReadOthersBooking(t *testing.T) {
	r := newTestRouter(t)
	prov := bearer(t, "prov", "PROVIDER")
	client := bearer(t, "alice", "CLIENT")

	w := doJSON(t, r, http.MethodPut, "/v1/providers/me", prov, gin.H{
		"display_name": "Dr. Prov", "rate_per_minute": 1, "timezone": "UTC",
	})
	require.Equal(t, http.StatusOK, w.Code)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	w = doJSON(t, r, http.MethodPost, "/v1/providers/me/slots", prov, gin.H{
		"start_iso": start.Format(time.RFC3339),
		"end_iso":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var declared struct {
		Slots []struct {
			ID string `json:"ID"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &declared))

	w = doJSON(t, r, http.MethodPost, "/v1/credits/purchase", client, gin.H{
		"package_code": "starter", "card_token": "tok_visa",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, r, http.MethodPost, "/v1/bookings", client, gin.H{
		"slot_id": declared.Slots[0].ID, "duration_min": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var booking struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))

	stranger := bearer(t, "mallory", "CLIENT")
	w = doJSON(t, r, http.MethodGet, "/v1/bookings/"+booking.ID, stranger, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}
