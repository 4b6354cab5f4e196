package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Status    string    `json:"status"`
	Total     int64     `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

func PutOrderStatus(ctx context.Context, rdb *redis.Client, st OrderStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, st.OrderID), b, TTLStatusCache).Err()
}

// GetOrderStatus returns ok=false on a cache miss.
func GetOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) (OrderStatus, bool, error) {
	raw, err := rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return OrderStatus{}, false, nil
	}
	if err != nil {
		return OrderStatus{}, false, err
	}
	var st OrderStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return OrderStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return st, true, nil
}
