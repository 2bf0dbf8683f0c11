package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	pdomain "github.com/monoxchd/psicologia-platform-sub000/internal/payment/domain"
	psvc "github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"

	lsvc "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/service"
)

type CreditHandler struct {
	ledger   *lsvc.LedgerSvc
	payments *psvc.PaymentSvc
}

func NewCreditHandler(ledger *lsvc.LedgerSvc, payments *psvc.PaymentSvc) *CreditHandler {
	return &CreditHandler{ledger: ledger, payments: payments}
}

// GET /v1/credits/balance
func (h *CreditHandler) Balance(c *gin.Context) {
	bal, err := h.ledger.Balance(c, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": subject(c), "balance": bal})
}

// GET /v1/credits/transactions?page=1&page_size=20
func (h *CreditHandler) Transactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	txs, total, err := h.ledger.Transactions(c, subject(c), int32(page-1), int32(size))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": total})
}

// GET /v1/credits/packages
func (h *CreditHandler) Packages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": pdomain.Packages()})
}

// POST /v1/credits/purchase
func (h *CreditHandler) Purchase(c *gin.Context) {
	var in struct {
		PackageCode string `json:"package_code" binding:"required"`
		CardToken   string `json:"card_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pkg, chargeID, err := h.payments.Purchase(c, subject(c), in.PackageCode, in.CardToken)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"package": pkg, "charge_id": chargeID})
}

// POST /v1/credits/earn (ADMIN) grants credits for contributed content.
func (h *CreditHandler) Earn(c *gin.Context) {
	var in struct {
		AccountID string `json:"account_id" binding:"required"`
		ArticleID string `json:"article_id" binding:"required"`
		Credits   int64  `json:"credits" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.ledger.Earn(c, in.AccountID, in.ArticleID, in.Credits)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}
