package consumer

import (
	"context"
	"encoding/json"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/monoxchd/psicologia-platform-sub000/internal/calendar/service"
	"github.com/monoxchd/psicologia-platform-sub000/pkg/mq"
)

type BookingConfirmed struct {
	BookingID  string `json:"booking_id"`
	ClientID   string `json:"client_id"`
	ProviderID string `json:"provider_id"`
	SlotID     string `json:"slot_id"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	CreditCost int64  `json:"credit_cost"`
}

type BookingCancelled struct {
	BookingID       string `json:"booking_id"`
	ProviderID      string `json:"provider_id"`
	ExternalEventID string `json:"external_event_id"`
}

// ExportConsumer mirrors booking lifecycle events onto the provider's
// external calendar.
type ExportConsumer struct {
	rec  *service.Reconciler
	cons *mq.Consumer
}

func NewExportConsumer(rec *service.Reconciler, cons *mq.Consumer) *ExportConsumer {
	return &ExportConsumer{rec: rec, cons: cons}
}

func (ec *ExportConsumer) Run(ctx context.Context) error {
	msgs, err := ec.cons.Deliveries(ctx, "calendar-export")
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			switch d.RoutingKey {
			case "booking.confirmed":
				var evt BookingConfirmed
				if err := json.Unmarshal(d.Body, &evt); err != nil {
					log.Printf("[calendar-consumer] unmarshal error: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				if evt.BookingID == "" {
					log.Printf("[calendar-consumer] invalid event payload")
					_ = d.Ack(false)
					continue
				}
				ec.handle(ctx, d, evt.BookingID, ec.rec.ExportBooking)
			case "booking.cancelled":
				var evt BookingCancelled
				if err := json.Unmarshal(d.Body, &evt); err != nil {
					log.Printf("[calendar-consumer] unmarshal error: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				if evt.BookingID == "" {
					_ = d.Ack(false)
					continue
				}
				ec.handle(ctx, d, evt.BookingID, ec.rec.RemoveExport)
			default:
				// ignore others
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

// handle runs the export action first and records consumption only once
// it succeeded; marking up front would make a failed export look done
// on redelivery. A Nack with no requeue lands in the dead-letter queue
// for operator replay, so retry exhaustion is never silent. The actions
// themselves are idempotent, which makes the redeliver-after-crash
// window safe.
func (ec *ExportConsumer) handle(ctx context.Context, d amqp.Delivery, bookingID string, action func(context.Context, string) error) {
	done, err := ec.rec.Consumed(ctx, bookingID, d.RoutingKey)
	if err != nil {
		_ = d.Nack(false, true)
		return
	}
	if done {
		_ = d.Ack(false)
		return
	}
	if err := action(ctx, bookingID); err != nil {
		log.Printf("[calendar-consumer] %s %s: %v", d.RoutingKey, bookingID, err)
		_ = d.Nack(false, false)
		return
	}
	if _, err := ec.rec.MarkConsumed(ctx, bookingID, d.RoutingKey); err != nil {
		log.Printf("[calendar-consumer] mark consumed %s %s: %v", d.RoutingKey, bookingID, err)
	}
	_ = d.Ack(false)
}
