package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"

	EventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`   // ulid
	EventType     string          `json:"event_type"` // one of the Event* consts
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "bookstore-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type LinePayload struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
	Price    int64 `json:"price"`
}

type OrderPlacedPayload struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	UserID      *int64        `json:"user_id,omitempty"`
	Lines       []LinePayload `json:"lines"`
	Total       int64         `json:"total"`
	Status      Status        `json:"status"`
}

type StatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      *int64 `json:"user_id,omitempty"`
	From        Status `json:"from"`
	To          Status `json:"to"`
	Total       int64  `json:"total"`
	Transition  string `json:"transition"` // cancel | restore | plain
}

// EventSink publishes committed facts. Emit must not block on the broker.
type EventSink interface {
	Emit(ctx context.Context, topic, key string, env Envelope) error
}

type nopSink struct{}

func (nopSink) Emit(context.Context, string, string, Envelope) error { return nil }

func linePayloads(lines []OrderLine) []LinePayload {
	out := make([]LinePayload, 0, len(lines))
	for _, l := range lines {
		out = append(out, LinePayload{BookID: l.BookID, Quantity: l.Quantity, Price: l.Price})
	}
	return out
}
