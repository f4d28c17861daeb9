package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"credit-ledger/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCreditsGranted publishes CreditsGranted event
func (ep *EventPublisher) PublishCreditsGranted(ctx context.Context, event *models.CreditsGrantedEvent) error {
	key := fmt.Sprintf("client-%d", event.ClientID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCreditsDeducted publishes CreditsDeducted event
func (ep *EventPublisher) PublishCreditsDeducted(ctx context.Context, event *models.CreditsDeductedEvent) error {
	return ep.producer.PublishEvent(ctx, "deduction-run", event)
}

// PublishClientNeedsPayment publishes ClientNeedsPayment event
func (ep *EventPublisher) PublishClientNeedsPayment(ctx context.Context, event *models.ClientNeedsPaymentEvent) error {
	key := fmt.Sprintf("client-%d", event.ClientID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCartCompleted publishes CartCompleted event. In production the
// checkout collaborator emits this; the engine publishes it only from test
// and backfill tooling.
func (ep *EventPublisher) PublishCartCompleted(ctx context.Context, event *models.CartCompletedEvent) error {
	key := fmt.Sprintf("cart-%d", event.CartID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCartCompleted func(context.Context, *models.CartCompletedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnCartCompleted registers a handler for CartCompleted events
func (eh *EventHandler) OnCartCompleted(handler func(context.Context, *models.CartCompletedEvent) error) {
	eh.onCartCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeCartCompleted:
		if eh.onCartCompleted != nil {
			var event models.CartCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CartCompleted event: %w", err)
			}
			return eh.onCartCompleted(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
