package domain

import "time"

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotHeld    SlotStatus = "held"
	SlotBooked  SlotStatus = "booked"
	SlotBlocked SlotStatus = "blocked"
)

type SlotSource string

const (
	SourceProvider SlotSource = "provider"
	SourceExternal SlotSource = "external"
)

// Slot is a discrete bookable interval. Slots of one provider never
// overlap while in open/held/booked; blocked time always wins and open
// slots are truncated around it.
type Slot struct {
	ID            string     `gorm:"primaryKey"`
	ProviderID    string     `gorm:"index"`
	StartTime     time.Time  `gorm:"index"`
	EndTime       time.Time  `gorm:"index"`
	Status        SlotStatus `gorm:"index"`
	Source        SlotSource
	ExternalUID   string `gorm:"index"` // external event uid on blocked slots
	HoldExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict records an imported block landing on a booked slot. It is a
// named condition for provider review, never auto-resolved: credits
// already changed hands on the internal side.
type Conflict struct {
	ID          string `gorm:"primaryKey"`
	ProviderID  string `gorm:"index"`
	SlotID      string `gorm:"index"`
	ExternalUID string
	StartTime   time.Time
	EndTime     time.Time
	Status      ConflictStatus `gorm:"index"`
	CreatedAt   time.Time
}
