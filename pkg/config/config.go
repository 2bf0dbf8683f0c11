package config

import (
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// DB
	PGCoreDSN string `envconfig:"PG_CORE_DSN" required:"true"`
	// JWT
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// Network
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// RabbitMQ
	RabbitURL        string `envconfig:"RABBIT_URL" required:"true"`
	BookingExchange  string `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	LedgerExchange   string `envconfig:"LEDGER_EXCHANGE" default:"ledger.exchange"`
	CalendarExchange string `envconfig:"CALENDAR_EXCHANGE" default:"calendar.exchange"`
	PaymentExchange  string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	NotifyQueue      string `envconfig:"NOTIFY_QUEUE" default:"notification.q"`
	NotifyDLX        string `envconfig:"NOTIFY_DLX" default:"notification.dlx"`
	NotifyDLQ        string `envconfig:"NOTIFY_DLQ" default:"notification.q.dlq"`
	ExportQueue      string `envconfig:"CALENDAR_EXPORT_QUEUE" default:"calendar.export.q"`
	ExportDLX        string `envconfig:"CALENDAR_EXPORT_DLX" default:"calendar.export.dlx"`
	ExportDLQ        string `envconfig:"CALENDAR_EXPORT_DLQ" default:"calendar.export.q.dlq"`

	// Omise
	OmisePub string `envconfig:"OMISE_PUBLIC_KEY" required:"true"`
	OmiseSec string `envconfig:"OMISE_SECRET_KEY" required:"true"`

	// External calendar OAuth
	CalClientID     string `envconfig:"CAL_CLIENT_ID" required:"true"`
	CalClientSecret string `envconfig:"CAL_CLIENT_SECRET" required:"true"`
	CalRedirectURL  string `envconfig:"CAL_REDIRECT_URL" required:"true"`
	CalAPIBaseURL   string `envconfig:"CAL_API_BASE_URL" default:"https://www.googleapis.com/calendar/v3"`
	CalAuthURL      string `envconfig:"CAL_AUTH_URL" default:"https://accounts.google.com/o/oauth2/auth"`
	CalTokenURL     string `envconfig:"CAL_TOKEN_URL" default:"https://oauth2.googleapis.com/token"`

	// Booking policy
	HoldTTLMin          int   `envconfig:"HOLD_TTL_MIN" default:"5"`
	CancelGraceHr       int   `envconfig:"CANCEL_GRACE_HR" default:"24"`
	CreditValidityDays  int   `envconfig:"CREDIT_VALIDITY_DAYS" default:"182"`
	LowBalanceThreshold int64 `envconfig:"LOW_BALANCE_THRESHOLD" default:"10"`

	// Sweeps
	HoldSweepSec      int `envconfig:"HOLD_SWEEP_SEC" default:"30"`
	CompleteSweepSec  int `envconfig:"COMPLETE_SWEEP_SEC" default:"60"`
	ImportSweepSec    int `envconfig:"IMPORT_SWEEP_SEC" default:"120"`
	ReconcileSweepSec int `envconfig:"RECONCILE_SWEEP_SEC" default:"600"`
	ExpireSweepSec    int `envconfig:"EXPIRE_SWEEP_SEC" default:"86400"`
	TokenSweepSec     int `envconfig:"TOKEN_SWEEP_SEC" default:"60"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
