// Package projector keeps the order status cache in line with committed
// order events.
package projector

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-bookstore-orders/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-bookstore-orders/internal/projector")

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.OrderStatus, bool, error)
	Put(ctx context.Context, st redisx.OrderStatus) error
}

// Dedup remembers processed event ids.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Projector struct {
	Cache  StatusCache
	Dedup  Dedup
	Logger *zap.Logger
}

// Handle is a kafka.Handler. Events it cannot read or does not know are
// logged and committed; only cache and dedup failures are returned, and the
// consumer retries those.
func (p *Projector) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		p.Logger.Error("drop undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	ctx, span := tracer.Start(ctx, "projector.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", env.EventID),
		attribute.String("event.type", env.EventType),
	)

	seen, err := p.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		return nil
	}

	var st redisx.OrderStatus
	switch env.EventType {
	case orders.EventOrderPlaced:
		pl, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			p.drop(env, err)
			return nil
		}
		st = redisx.OrderStatus{OrderID: pl.OrderID, UserID: pl.UserID, Status: string(pl.Status), Total: pl.Total}
	case orders.EventOrderStatusChanged:
		pl, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			p.drop(env, err)
			return nil
		}
		st = redisx.OrderStatus{OrderID: pl.OrderID, UserID: pl.UserID, Status: string(pl.To), Total: pl.Total}
	default:
		return nil
	}
	st.UpdatedAt = env.OccurredAt

	// Placed and status events travel on different topics and may arrive out
	// of order; never overwrite a newer entry.
	cur, ok, err := p.Cache.Get(ctx, st.OrderID)
	if err != nil {
		return fmt.Errorf("read cached status: %w", err)
	}
	if ok && cur.UpdatedAt.After(st.UpdatedAt) {
		p.Logger.Debug("stale event skipped", zap.String("order_id", st.OrderID), zap.String("event_id", env.EventID))
	} else if err := p.Cache.Put(ctx, st); err != nil {
		return fmt.Errorf("write cached status: %w", err)
	}

	if err := p.Dedup.Mark(ctx, env.EventID); err != nil {
		p.Logger.Warn("mark event processed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	p.Logger.Info("order status projected",
		zap.String("order_id", st.OrderID),
		zap.String("status", st.Status),
		zap.String("event_type", env.EventType),
	)
	return nil
}

func (p *Projector) drop(env orders.Envelope, err error) {
	p.Logger.Error("drop undecodable payload",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.Error(err),
	)
}
