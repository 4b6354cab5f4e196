// Package cart holds the shopper's candidate lines for the life of a session.
// Lines are never written to the order database; a Session lives in Redis and
// Memory lives in-process.
package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrInvalidQuantity = errors.New("cart: quantity must be positive")
	ErrInvalidBook     = errors.New("cart: invalid book id")
)

// Cart is the full session cart surface used by the HTTP layer.
type Cart interface {
	Lines(ctx context.Context) ([]Line, error)
	Filter(ctx context.Context, bookIDs []int64) ([]Line, error)
	Remove(ctx context.Context, bookIDs []int64) error
	Add(ctx context.Context, bookID int64, qty int) (int, error)
	SetQuantity(ctx context.Context, bookID int64, qty int) error
	Clear(ctx context.Context) error
}

var (
	_ Cart = (*Memory)(nil)
	_ Cart = (*Session)(nil)
)

type Line struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortLines(lines []Line) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].BookID < lines[j].BookID })
}

// Count is the number of units across lines.
func Count(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Memory is an in-process cart. The zero value is empty and ready to use.
type Memory struct {
	mu    sync.Mutex
	lines map[int64]int
}

func NewMemory(lines ...Line) *Memory {
	m := &Memory{lines: make(map[int64]int, len(lines))}
	for _, l := range lines {
		m.lines[l.BookID] += l.Quantity
	}
	return m
}

func (m *Memory) snapshot(keep func(int64) bool) []Line {
	out := make([]Line, 0, len(m.lines))
	for id, qty := range m.lines {
		if keep(id) {
			out = append(out, Line{BookID: id, Quantity: qty})
		}
	}
	sortLines(out)
	return out
}

func (m *Memory) Lines(context.Context) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(func(int64) bool { return true }), nil
}

// Filter returns the lines whose book id is in bookIDs.
func (m *Memory) Filter(_ context.Context, bookIDs []int64) ([]Line, error) {
	set := idSet(bookIDs)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(func(id int64) bool {
		_, ok := set[id]
		return ok
	}), nil
}

func (m *Memory) Remove(_ context.Context, bookIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range bookIDs {
		delete(m.lines, id)
	}
	return nil
}

// Add merges qty into the line for bookID and returns the new line quantity.
func (m *Memory) Add(_ context.Context, bookID int64, qty int) (int, error) {
	if bookID <= 0 {
		return 0, ErrInvalidBook
	}
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lines == nil {
		m.lines = make(map[int64]int)
	}
	m.lines[bookID] += qty
	return m.lines[bookID], nil
}

// SetQuantity replaces the line quantity; qty <= 0 drops the line.
func (m *Memory) SetQuantity(_ context.Context, bookID int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qty <= 0 {
		delete(m.lines, bookID)
		return nil
	}
	if m.lines == nil {
		m.lines = make(map[int64]int)
	}
	m.lines[bookID] = qty
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	return nil
}
