package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	avrepo "github.com/monoxchd/psicologia-platform-sub000/internal/availability/repository"
	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	bsvc "github.com/monoxchd/psicologia-platform-sub000/internal/booking/service"
	calsvc "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
	lrepo "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/repository"
	pdomain "github.com/monoxchd/psicologia-platform-sub000/internal/payment/domain"
	psvc "github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"
	provsvc "github.com/monoxchd/psicologia-platform-sub000/internal/provider/service"
)

// fail maps domain errors onto HTTP statuses; anything unrecognized is
// a 500 without leaking internals.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, lrepo.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, lrepo.ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, avrepo.ErrNotAvailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, avrepo.ErrOverlap):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, avsvc.ErrBadInterval),
		errors.Is(err, bsvc.ErrBadDuration),
		errors.Is(err, provsvc.ErrBadRate),
		errors.Is(err, pdomain.ErrUnknownPackage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, bsvc.ErrNotYours):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, bsvc.ErrTooLate), errors.Is(err, bsvc.ErrNotCancelable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, psvc.ErrChargeFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, calsvc.ErrReauthorizationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func subject(c *gin.Context) string {
	v, _ := c.Get("sub")
	s, _ := v.(string)
	return s
}

func role(c *gin.Context) string {
	v, _ := c.Get("role")
	s, _ := v.(string)
	return s
}
