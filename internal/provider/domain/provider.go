package domain

import "time"

// Provider is the bookable professional. ID matches the account id
// supplied by the identity surface.
type Provider struct {
	ID            string `gorm:"primaryKey"`
	DisplayName   string
	RatePerMinute int64  // credits per session minute
	Timezone      string // IANA name, informational
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
