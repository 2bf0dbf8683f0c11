package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/omise/omise-go"

	avrepo "github.com/monoxchd/psicologia-platform-sub000/internal/availability/repository"
	avsvc "github.com/monoxchd/psicologia-platform-sub000/internal/availability/service"
	brepo "github.com/monoxchd/psicologia-platform-sub000/internal/booking/repository"
	bsvc "github.com/monoxchd/psicologia-platform-sub000/internal/booking/service"
	calcons "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/consumer"
	calext "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/external"
	calrepo "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/repository"
	calsvc "github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
	"github.com/monoxchd/psicologia-platform-sub000/internal/gateway"
	lrepo "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/repository"
	lsvc "github.com/monoxchd/psicologia-platform-sub000/internal/ledger/service"
	"github.com/monoxchd/psicologia-platform-sub000/internal/notify/notifier"
	notifyworker "github.com/monoxchd/psicologia-platform-sub000/internal/notify/worker"
	payhttp "github.com/monoxchd/psicologia-platform-sub000/internal/payment/http"
	psvc "github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"
	provrepo "github.com/monoxchd/psicologia-platform-sub000/internal/provider/repository"
	provsvc "github.com/monoxchd/psicologia-platform-sub000/internal/provider/service"
	"github.com/monoxchd/psicologia-platform-sub000/internal/worker"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/config"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/db"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/mq"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/obs"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	_ = godotenv.Load()
	cfg := must(config.Load())

	shutdownTracer := obs.InitTracer("therapy-platform")

	gdb := db.Open(cfg.PGCoreDSN)

	ledgerRepo := lrepo.NewLedgerRepo(gdb)
	must(0, ledgerRepo.Migrate())
	providerRepo := provrepo.NewProviderRepo(gdb)
	must(0, providerRepo.Migrate())
	slotRepo := avrepo.NewSlotRepo(gdb)
	must(0, slotRepo.Migrate())
	bookingRepo := brepo.NewBookingRepo(gdb)
	must(0, bookingRepo.Migrate())
	linkRepo := calrepo.NewLinkRepo(gdb)
	must(0, linkRepo.Migrate())

	ledgerPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.LedgerExchange))
	defer ledgerPub.Close()
	bookingPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.BookingExchange))
	defer bookingPub.Close()
	calendarPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.CalendarExchange))
	defer calendarPub.Close()
	paymentPub := must(mq.NewPublisher(cfg.RabbitURL, cfg.PaymentExchange))
	defer paymentPub.Close()

	ledgerSvc := lsvc.NewLedgerSvc(ledgerRepo, ledgerPub,
		time.Duration(cfg.CreditValidityDays)*24*time.Hour, cfg.LowBalanceThreshold)
	providerSvc := provsvc.NewProviderSvc(providerRepo)
	availabilitySvc := avsvc.NewAvailabilitySvc(slotRepo, calendarPub,
		time.Duration(cfg.HoldTTLMin)*time.Minute)
	bookingSvc := bsvc.NewBookingSvc(bookingRepo, ledgerSvc, availabilitySvc, providerSvc,
		bookingPub, time.Duration(cfg.CancelGraceHr)*time.Hour)

	oauth := calext.NewOAuth(calext.OAuthConfig{
		ClientID:     cfg.CalClientID,
		ClientSecret: cfg.CalClientSecret,
		RedirectURL:  cfg.CalRedirectURL,
		AuthURL:      cfg.CalAuthURL,
		TokenURL:     cfg.CalTokenURL,
	})
	calClient := calext.NewClient(cfg.CalAPIBaseURL)
	reconciler := calsvc.NewReconciler(linkRepo, calClient, oauth, availabilitySvc, bookingRepo)

	omc := must(omise.NewClient(cfg.OmisePub, cfg.OmiseSec))
	paymentSvc := psvc.NewPaymentSvc(psvc.NewOmiseCharger(omc), ledgerSvc, paymentPub)
	webhook := payhttp.NewWebhookServer(omc, paymentSvc, paymentPub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exportCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:       cfg.RabbitURL,
		Exchanges: []string{cfg.BookingExchange},
		Queue:     cfg.ExportQueue,
		Keys:      []string{"booking.confirmed", "booking.cancelled"},
		DLX:       cfg.ExportDLX,
		DLQ:       cfg.ExportDLQ,
	}))
	defer exportCons.Close()
	must(0, calcons.NewExportConsumer(reconciler, exportCons).Run(ctx))
	log.Println("[server] calendar export consumer started")

	notifyCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL: cfg.RabbitURL,
		Exchanges: []string{
			cfg.BookingExchange, cfg.LedgerExchange,
			cfg.CalendarExchange, cfg.PaymentExchange,
		},
		Queue: cfg.NotifyQueue,
		Keys:  []string{"booking.*", "credits.*", "calendar.*", "payment.*"},
		DLX:   cfg.NotifyDLX,
		DLQ:   cfg.NotifyDLQ,
	}))
	defer notifyCons.Close()
	go func() {
		if err := notifyworker.NewConsumer(notifyCons, notifier.NewConsole()).Run(ctx); err != nil {
			log.Printf("[server] notify worker: %v", err)
		}
	}()

	sweeper := worker.NewSweeper(worker.Intervals{
		Holds:     time.Duration(cfg.HoldSweepSec) * time.Second,
		Complete:  time.Duration(cfg.CompleteSweepSec) * time.Second,
		Import:    time.Duration(cfg.ImportSweepSec) * time.Second,
		Reconcile: time.Duration(cfg.ReconcileSweepSec) * time.Second,
		Expire:    time.Duration(cfg.ExpireSweepSec) * time.Second,
		Tokens:    time.Duration(cfg.TokenSweepSec) * time.Second,
	}, availabilitySvc, bookingSvc, ledgerSvc, reconciler)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("[server] sweeper: %v", err)
		}
	}()

	r := gateway.NewRouter(gateway.Deps{
		Ledger:       ledgerSvc,
		Providers:    providerSvc,
		Availability: availabilitySvc,
		Bookings:     bookingSvc,
		Reconciler:   reconciler,
		Payments:     paymentSvc,
		Webhook:      webhook,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Println("[server] http listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	_ = shutdownTracer(shCtx)
	log.Println("[server] stopped")
}
