// Package registry maps outbox event types to their Pub/Sub topic and
// payload schema, and validates stored rows before they are published.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/enums"
	"github.com/willshop/storefront/pkg/outbox"
	"github.com/willshop/storefront/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every order event to the orders topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}

	orderEvents := map[enums.OutboxEventType]func() any{
		enums.EventOrderCreated:  func() any { return &payloads.OrderCreatedEvent{} },
		enums.EventOrderCanceled: func() any { return &payloads.OrderCanceledEvent{} },
	}

	r := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor, len(orderEvents))}
	for eventType, factory := range orderEvents {
		r.byType[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  enums.AggregateOrder,
			Topic:          cfg.OrdersTopic,
			PayloadFactory: factory,
		}
	}
	return r, nil
}

// Topics lists the distinct topics, sorted.
func (r *EventRegistry) Topics() []string {
	set := make(map[string]struct{}, len(r.byType))
	for _, desc := range r.byType {
		set[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve validates the row and decodes its typed payload. Every failure is
// non-retryable because the stored bytes will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.describe(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	envelope, err := decodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) describe(event models.OutboxEvent) (EventDescriptor, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return desc, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return desc, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return desc, errors.New("missing aggregate_id")
	}
	return desc, nil
}

func decodeEnvelope(raw []byte) (outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return envelope, errors.New("envelope has no data")
	}
	return envelope, nil
}
