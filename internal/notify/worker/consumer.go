package worker

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/monoxchd/psicologia-platform-sub000/internal/notify/events"
	"github.com/monoxchd/psicologia-platform-sub000/internal/notify/notifier"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/mq"
)

// Consumer fans platform events out to the notifier. Failed handles
// are nacked without requeue so they land on the dead-letter queue
// instead of spinning forever.
type Consumer struct {
	cons     *mq.Consumer
	notifier notifier.Notifier
}

func NewConsumer(cons *mq.Consumer, n notifier.Notifier) *Consumer {
	return &Consumer{cons: cons, notifier: n}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.cons.Deliveries(ctx, "notify")
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handleDelivery(d); err != nil {
				log.Printf("[notify] handle error key=%s err=%v -> Nack to DLQ", d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleDelivery(d amqp.Delivery) error {
	switch d.RoutingKey {
	case events.RKBookingConfirmed:
		ev, err := events.MustUnmarshal[events.BookingConfirmed](d.Body)
		if err != nil {
			return err
		}
		return c.notifier.Notify("Session booked",
			fmt.Sprintf("Booking %s with provider %s, %s (%d credits).",
				ev.BookingID, ev.ProviderID, notifier.HumanTimeRange(ev.Start, ev.End), ev.CreditCost))

	case events.RKBookingCancelled:
		ev, err := events.MustUnmarshal[events.BookingCancelled](d.Body)
		if err != nil {
			return err
		}
		return c.notifier.Notify("Session cancelled",
			fmt.Sprintf("Booking %s has been cancelled.", ev.BookingID))

	case events.RKCreditsLow:
		ev, err := events.MustUnmarshal[events.CreditsLow](d.Body)
		if err != nil {
			return err
		}
		return c.notifier.Notify("Credits running low",
			fmt.Sprintf("Account %s has %d credits left.", ev.AccountID, ev.Balance))

	case events.RKCalendarConflict:
		ev, err := events.MustUnmarshal[events.CalendarConflict](d.Body)
		if err != nil {
			return err
		}
		return c.notifier.Notify("Calendar conflict",
			fmt.Sprintf("Provider %s: external event %s overlaps booked slot %s (conflict %s). Needs manual resolution.",
				ev.ProviderID, ev.ExternalUID, ev.SlotID, ev.ConflictID))

	case events.RKPaymentFailed:
		ev, err := events.MustUnmarshal[events.PaymentFailed](d.Body)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Payment failed for account %s (charge=%s).", ev.AccountID, ev.ChargeID)
		if ev.Reason != "" {
			msg = fmt.Sprintf("%s Reason: %s", msg, ev.Reason)
		}
		return c.notifier.Notify("Payment failed", msg)

	default:
		log.Printf("[notify] skip unknown key=%s", d.RoutingKey)
	}
	return nil
}
