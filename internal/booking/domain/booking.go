package domain

import "time"

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Booking snapshots the credit cost at reservation time; a later rate
// change never retrofits the price.
type Booking struct {
	ID              string `gorm:"primaryKey"`
	ClientID        string `gorm:"index"`
	ProviderID      string `gorm:"index"`
	SlotID          string `gorm:"index"`
	StartTime       time.Time
	EndTime         time.Time
	DurationMin     int
	CreditCost      int64
	Status          Status `gorm:"index"`
	CancelDeadline  time.Time
	ExternalEventID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
