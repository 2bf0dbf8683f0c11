package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	bsvc "github.com/monoxchd/psicologia-platform-sub000/internal/booking/service"
	calsvc "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
	"github.com/monoxchd/psicologia-platform-sub000/internal/gateway/handlers"
	"github.com/monoxchd/psicologia-platform-sub000/internal/gateway/middlewares"
	ldomain "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/domain"
	lsvc "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/service"
	payhttp "github.com/monoxchd/psicologia-platform-sub000/internal/payment/http"
	psvc "github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"
	provsvc "github.com/monoxchd/psicologia-platform-sub000/internal/provider/service"
)

type Deps struct {
	Ledger       *lsvc.LedgerSvc
	Providers    *provsvc.ProviderSvc
	Availability *avsvc.AvailabilitySvc
	Bookings     *bsvc.BookingSvc
	Reconciler   *calsvc.Reconciler
	Payments     *psvc.PaymentSvc
	Webhook      *payhttp.WebhookServer
}

// ensureAccount lazily creates the ledger account row for the caller.
func ensureAccount(ledger *lsvc.LedgerSvc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, _ := c.Get("sub")
		id, _ := sub.(string)
		rv, _ := c.Get("role")
		role, _ := rv.(string)
		if id != "" {
			if _, err := ledger.EnsureAccount(c, id, ldomain.Role(role)); err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}
		c.Next()
	}
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	crh := handlers.NewCreditHandler(d.Ledger, d.Payments)
	prh := handlers.NewProviderHandler(d.Providers, d.Availability)
	boh := handlers.NewBookingHandler(d.Bookings)
	cah := handlers.NewCalendarHandler(d.Reconciler, d.Availability)

	if d.Webhook != nil {
		r.POST("/webhooks/omise", d.Webhook.Handler)
	}
	r.POST("/webhooks/calendar", cah.Webhook)

	v1 := r.Group("/v1")
	{
		v1.GET("/providers", prh.List)
		v1.GET("/providers/:id/slots", prh.Slots)

		// OAuth callback arrives unauthenticated; the state param
		// carries the provider id.
		v1.GET("/calendar/callback", cah.Callback)

		secured := v1.Group("")
		secured.Use(middlewares.JWTAuth(), ensureAccount(d.Ledger))
		{
			secured.GET("/credits/balance", crh.Balance)
			secured.GET("/credits/transactions", crh.Transactions)
			secured.GET("/credits/packages", crh.Packages)
			secured.POST("/credits/purchase", crh.Purchase)

			admin := secured.Group("")
			admin.Use(middlewares.RequireRole("ADMIN"))
			admin.POST("/credits/earn", crh.Earn)

			secured.POST("/bookings", boh.Reserve)
			secured.GET("/bookings", boh.List)
			secured.GET("/bookings/:id", boh.Get)
			secured.POST("/bookings/:id/cancel", boh.Cancel)

			prov := secured.Group("")
			prov.Use(middlewares.RequireRole("PROVIDER", "ADMIN"))
			{
				prov.PUT("/providers/me", prh.UpsertMe)
				prov.POST("/providers/me/slots", prh.DeclareSlots)
				prov.POST("/bookings/:id/no-show", boh.NoShow)

				prov.GET("/calendar/connect", cah.Connect)
				prov.DELETE("/calendar/link", cah.Disconnect)
				prov.POST("/calendar/sync", cah.Sync)
				prov.GET("/calendar/conflicts", cah.Conflicts)
				prov.POST("/calendar/conflicts/:id/resolve", cah.ResolveConflict)
			}
		}
	}

	return r
}
