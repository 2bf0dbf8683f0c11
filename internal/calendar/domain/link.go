package domain

import "time"

type LinkStatus string

const (
	LinkDisconnected LinkStatus = "disconnected"
	LinkConnecting   LinkStatus = "connecting"
	LinkConnected    LinkStatus = "connected"
	LinkTokenExpired LinkStatus = "token_expired"
)

// CalendarLink holds a provider's OAuth credentials for the external
// calendar. Revocation detected through a failed refresh invalidates
// the link (status disconnected) without deleting it; only an explicit
// disconnect removes the row.
type CalendarLink struct {
	ProviderID      string `gorm:"primaryKey"`
	ExternalAccount string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	LastSyncAt      *time.Time
	SyncCursor      string
	Status          LinkStatus `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventConsumed dedupes booking events consumed off the queue, so
// at-least-once delivery never exports a booking twice.
type EventConsumed struct {
	ID          string `gorm:"primaryKey"` // routing key + booking id
	EventKey    string `gorm:"index"`
	ProcessedAt time.Time
}
