package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusStore adapts the status cache helpers to a value type.
type StatusStore struct{ RDB *redis.Client }

func (s StatusStore) Get(ctx context.Context, orderID string) (OrderStatus, bool, error) {
	return GetOrderStatus(ctx, s.RDB, orderID)
}

func (s StatusStore) Put(ctx context.Context, st OrderStatus) error {
	return PutOrderStatus(ctx, s.RDB, st)
}

// EventDedup records processed event ids per service.
type EventDedup struct {
	RDB     *redis.Client
	Service string
}

func (d EventDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, d.Service, eventID))
}

func (d EventDedup) Mark(ctx context.Context, eventID string) error {
	_, err := MarkOnce(ctx, d.RDB, d.Service, eventID)
	return err
}
