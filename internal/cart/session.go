package cart

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
)

// Session is a Redis-backed cart scoped to one browser session. Every write
// slides the TTL forward.
type Session struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewSession(rdb *redis.Client, sessionID string, ttl time.Duration) *Session {
	return &Session{rdb: rdb, key: fmt.Sprintf(redisx.KeyCart, sessionID), ttl: ttl}
}

func (s *Session) Lines(ctx context.Context) ([]Line, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("cart lines: %w", err)
	}
	out := make([]Line, 0, len(raw))
	for field, val := range raw {
		l, ok := parseLine(field, val)
		if !ok {
			continue
		}
		out = append(out, l)
	}
	sortLines(out)
	return out, nil
}

func (s *Session) Filter(ctx context.Context, bookIDs []int64) ([]Line, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}
	ids := uniqueIDs(bookIDs)
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	vals, err := s.rdb.HMGet(ctx, s.key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("cart filter: %w", err)
	}
	out := make([]Line, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if l, ok := parseLine(fields[i], str); ok {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out, nil
}

func (s *Session) Remove(ctx context.Context, bookIDs []int64) error {
	if len(bookIDs) == 0 {
		return nil
	}
	fields := make([]string, len(bookIDs))
	for i, id := range bookIDs {
		fields[i] = strconv.FormatInt(id, 10)
	}
	if err := s.rdb.HDel(ctx, s.key, fields...).Err(); err != nil {
		return fmt.Errorf("cart remove: %w", err)
	}
	return nil
}

// Add merges qty into the line for bookID and returns the new line quantity.
func (s *Session) Add(ctx context.Context, bookID int64, qty int) (int, error) {
	if bookID <= 0 {
		return 0, ErrInvalidBook
	}
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, s.key, strconv.FormatInt(bookID, 10), int64(qty))
		p.Expire(ctx, s.key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cart add: %w", err)
	}
	return int(incr.Val()), nil
}

// SetQuantity replaces the line quantity; qty <= 0 drops the line.
func (s *Session) SetQuantity(ctx context.Context, bookID int64, qty int) error {
	field := strconv.FormatInt(bookID, 10)
	if qty <= 0 {
		return s.Remove(ctx, []int64{bookID})
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key, field, qty)
		p.Expire(ctx, s.key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cart set quantity: %w", err)
	}
	return nil
}

func (s *Session) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

func parseLine(field, val string) (Line, bool) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil || id <= 0 {
		return Line{}, false
	}
	qty, err := strconv.Atoi(val)
	if err != nil || qty <= 0 {
		return Line{}, false
	}
	return Line{BookID: id, Quantity: qty}, true
}

func uniqueIDs(ids []int64) []int64 {
	seen := idSet(nil)
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
