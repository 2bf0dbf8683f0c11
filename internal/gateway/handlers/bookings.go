package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	bsvc "github.com/monoxchd/psicologia-platform-sub000/internal/booking/service"
	ldomain "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
)

type BookingHandler struct {
	bookings *bsvc.BookingSvc
}

func NewBookingHandler(bookings *bsvc.BookingSvc) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// POST /v1/bookings
func (h *BookingHandler) Reserve(c *gin.Context) {
	var in struct {
		SlotID      string `json:"slot_id" binding:"required"`
		DurationMin int    `json:"duration_min" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.bookings.Reserve(c, subject(c), in.SlotID, in.DurationMin)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.bookings.Get(c, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if role(c) != string(ldomain.RoleAdmin) && b.ClientID != subject(c) && b.ProviderID != subject(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// GET /v1/bookings?page=1&page_size=20 lists the caller's own bookings.
func (h *BookingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	var clientID, providerID string
	switch role(c) {
	case string(ldomain.RoleProvider):
		providerID = subject(c)
	case string(ldomain.RoleAdmin):
		clientID = c.Query("client_id")
		providerID = c.Query("provider_id")
	default:
		clientID = subject(c)
	}
	bs, total, err := h.bookings.List(c, int32(page-1), int32(size), clientID, providerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bs, "total": total})
}

// POST /v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	b, err := h.bookings.Cancel(c, c.Param("id"), subject(c), ldomain.Role(role(c)))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /v1/bookings/:id/no-show (PROVIDER)
func (h *BookingHandler) NoShow(c *gin.Context) {
	b, err := h.bookings.MarkNoShow(c, c.Param("id"), subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
