/**
 * @description
 * AMQP consumer for settled-payment events published by the payment service.
 * Each event is booked as a CREDIT ledger entry through the same idempotent
 * path the payment webhook uses, so a notification that arrives on both
 * transports (or twice on one) still produces exactly one entry.
 *
 * @dependencies
 * - internal/domain: The PaymentConfirmedEvent payload.
 * - The Service's RecordInboundCredit for the actual booking.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
)

// PaymentEventConsumer handles payment.confirmed events from the payment
// service's exchange.
type PaymentEventConsumer struct {
	service *Service
}

func NewPaymentEventConsumer(service *Service) *PaymentEventConsumer {
	return &PaymentEventConsumer{service: service}
}

// HandleMessage processes one delivery. The return value is the ack decision:
// true acknowledges, false re-queues. Malformed or unprocessable payloads are
// acknowledged so they cannot poison the queue; only transient failures
// (database unavailable, rate limited) re-queue.
func (c *PaymentEventConsumer) HandleMessage(body []byte) bool {
	var event domain.PaymentConfirmedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=payment_consumer msg=\"failed to unmarshal payload\" error=%q", err)
		return true
	}
	if event.GroupID == uuid.Nil {
		log.Printf("level=warn component=payment_consumer msg=\"event missing group id\" client_ref=%q", event.ClientRef)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	params := domain.CreditParams{
		GroupID:   event.GroupID,
		Amount:    event.Amount,
		Source:    event.Source,
		Simulated: event.Simulated,
		Channel:   strings.ToUpper(strings.TrimSpace(event.Channel)),
	}
	if ref := strings.TrimSpace(event.ClientRef); ref != "" {
		params.ClientRef = &ref
	}

	result, err := c.service.RecordInboundCredit(ctx, params)
	if err != nil {
		// Bad payloads can never succeed on redelivery; drop them.
		if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidChannel) || errors.Is(err, store.ErrGroupNotFound) {
			log.Printf("level=warn component=payment_consumer msg=\"dropping unprocessable payment event\" group_id=%s client_ref=%q error=%q", event.GroupID, event.ClientRef, err)
			return true
		}
		log.Printf("level=error component=payment_consumer msg=\"failed to record credit, re-queuing\" group_id=%s client_ref=%q error=%q", event.GroupID, event.ClientRef, err)
		return false
	}

	if result.Duplicate {
		log.Printf("level=info component=payment_consumer msg=\"duplicate payment event acknowledged\" group_id=%s client_ref=%q", event.GroupID, event.ClientRef)
	}
	return true
}
