package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsReserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_reserved_total",
		Help: "Bookings confirmed through the reserve flow.",
	})
	BookingsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_cancelled_total",
		Help: "Bookings cancelled by client or provider.",
	})
	CreditsSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_spent_total",
		Help: "Credits debited by confirmed reservations.",
	})
	ImportedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_imported_events_total",
		Help: "External calendar events handled by the reconciler, by result.",
	}, []string{"result"}) // blocked | unblocked | skipped | conflict
	ExportedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calendar_exported_events_total",
		Help: "Bookings pushed to the external calendar.",
	})
	ReconcileFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_faults_total",
		Help: "Ledger/store mismatches found by the reconciliation sweep.",
	})
	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holds_expired_total",
		Help: "Slot holds reverted to open by the TTL sweep.",
	})
)
