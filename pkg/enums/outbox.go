package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder
}

// OutboxEventType is the routing key of an outbox event.
type OutboxEventType string

const (
	EventOrderCreated  OutboxEventType = "order.created"
	EventOrderCanceled OutboxEventType = "order.canceled"
)

var validEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCanceled,
}

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
