package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	pdomain "github.com/monoxchd/psicologia-platform-sub000/internal/provider/domain"
	provsvc "github.com/monoxchd/psicologia-platform-sub000/internal/provider/service"
)

type ProviderHandler struct {
	providers *provsvc.ProviderSvc
	slots     *avsvc.AvailabilitySvc
}

func NewProviderHandler(providers *provsvc.ProviderSvc, slots *avsvc.AvailabilitySvc) *ProviderHandler {
	return &ProviderHandler{providers: providers, slots: slots}
}

// GET /v1/providers?page=1&page_size=20
func (h *ProviderHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	ps, total, err := h.providers.List(c, int32(page-1), int32(size))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": ps, "total": total})
}

// PUT /v1/providers/me (PROVIDER)
func (h *ProviderHandler) UpsertMe(c *gin.Context) {
	var in struct {
		DisplayName   string `json:"display_name" binding:"required"`
		RatePerMinute int64  `json:"rate_per_minute" binding:"required"`
		Timezone      string `json:"timezone"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.providers.Upsert(c, pdomain.Provider{
		ID:            subject(c),
		DisplayName:   in.DisplayName,
		RatePerMinute: in.RatePerMinute,
		Timezone:      in.Timezone,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// POST /v1/providers/me/slots (PROVIDER) declares an open interval.
func (h *ProviderHandler) DeclareSlots(c *gin.Context) {
	var in struct {
		StartISO string `json:"start_iso" binding:"required"` // RFC3339
		EndISO   string `json:"end_iso"   binding:"required"` // RFC3339
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := time.Parse(time.RFC3339, in.StartISO)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad start_iso"})
		return
	}
	end, err := time.Parse(time.RFC3339, in.EndISO)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad end_iso"})
		return
	}
	slots, err := h.slots.Declare(c, subject(c), start, end)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slots": slots})
}

// GET /v1/providers/:id/slots?from=RFC3339&to=RFC3339
func (h *ProviderHandler) Slots(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.DefaultQuery("from", time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad from"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.DefaultQuery("to", time.Now().UTC().AddDate(0, 0, 14).Format(time.RFC3339)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad to"})
		return
	}
	slots, err := h.slots.ListByProvider(c, c.Param("id"), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}
