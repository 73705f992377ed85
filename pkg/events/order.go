// Package events holds the wire contract shared by the order and notification services.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderEvents   = "order_events"
	TopicProductEvents = "product_events"

	EventTypeOrderCreated   = "OrderCreated"
	EventTypeProductCreated = "ProductCreated"

	// UnknownProductTitle is sent when a line's product can no longer be resolved.
	UnknownProductTitle = "Unknown Product"

	HeaderEventType = "event_type"
)

type OrderProductEvent struct {
	ProductID    *uuid.UUID `json:"product_id,omitempty"`
	ProductTitle string     `json:"product_title"`
	Quantity     int32      `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	CustomerEmail string              `json:"customer_email"`
	OrderDate     time.Time           `json:"order_date"`
	OrderProducts []OrderProductEvent `json:"order_products"`
}

type ProductCreatedEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Title     string    `json:"title"`
}

// Envelope is the message value written to Kafka.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return json.Marshal(Envelope{Event: eventType, Payload: raw})
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return env, nil
}
