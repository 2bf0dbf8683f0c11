package events

import (
	"encoding/json"
	"fmt"
)

const (
	RKBookingConfirmed = "booking.confirmed"
	RKBookingCancelled = "booking.cancelled"
	RKCreditsLow       = "credits.low"
	RKCalendarConflict = "calendar.conflict"
	RKPaymentFailed    = "payment.failed"
)

type BookingConfirmed struct {
	BookingID  string `json:"booking_id"`
	ClientID   string `json:"client_id"`
	ProviderID string `json:"provider_id"`
	SlotID     string `json:"slot_id"`
	Start      int64  `json:"start"` // unix seconds
	End        int64  `json:"end"`
	CreditCost int64  `json:"credit_cost"`
}

type BookingCancelled struct {
	BookingID       string `json:"booking_id"`
	ProviderID      string `json:"provider_id"`
	ExternalEventID string `json:"external_event_id,omitempty"`
}

type CreditsLow struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type CalendarConflict struct {
	ConflictID  string `json:"conflict_id"`
	ProviderID  string `json:"provider_id"`
	SlotID      string `json:"slot_id"`
	ExternalUID string `json:"external_uid"`
}

type PaymentFailed struct {
	AccountID string `json:"account_id"`
	ChargeID  string `json:"charge_id"`
	Reason    string `json:"reason,omitempty"`
}

func MustUnmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
