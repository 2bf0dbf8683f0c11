package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	calsvc "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
)

type CalendarHandler struct {
	rec   *calsvc.Reconciler
	slots *avsvc.AvailabilitySvc
}

func NewCalendarHandler(rec *calsvc.Reconciler, slots *avsvc.AvailabilitySvc) *CalendarHandler {
	return &CalendarHandler{rec: rec, slots: slots}
}

// GET /v1/calendar/connect (PROVIDER) starts the OAuth flow. The
// provider id rides in the state parameter and comes back on callback.
func (h *CalendarHandler) Connect(c *gin.Context) {
	u, err := h.rec.LoginURL(c, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": u})
}

// GET /v1/calendar/callback?code=...&state=<provider id>
func (h *CalendarHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	providerID := c.Query("state")
	if code == "" || providerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}
	l, err := h.rec.Connect(c, providerID, code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": l.ProviderID, "account": l.ExternalAccount, "status": l.Status})
}

// DELETE /v1/calendar/link (PROVIDER)
func (h *CalendarHandler) Disconnect(c *gin.Context) {
	if err := h.rec.Disconnect(c, subject(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/calendar/sync (PROVIDER) forces an import outside the sweep.
func (h *CalendarHandler) Sync(c *gin.Context) {
	n, err := h.rec.ImportSince(c, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

// POST /webhooks/calendar (public) is the calendar side's push
// notification. The payload only names the provider; the actual
// changes are pulled through the normal import path, so a spoofed
// call can at most trigger a redundant sync.
func (h *CalendarHandler) Webhook(c *gin.Context) {
	var body struct {
		ProviderID string `json:"provider_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.rec.ImportSince(c, body.ProviderID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

// GET /v1/calendar/conflicts (PROVIDER)
func (h *CalendarHandler) Conflicts(c *gin.Context) {
	cs, err := h.slots.OpenConflicts(c, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": cs})
}

// POST /v1/calendar/conflicts/:id/resolve (PROVIDER) acknowledges a
// conflict after it was sorted out off-platform. The booking itself is
// never touched here.
func (h *CalendarHandler) ResolveConflict(c *gin.Context) {
	cf, err := h.slots.ConflictByID(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if cf.ProviderID != subject(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err := h.slots.ResolveConflict(c, cf.ID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
