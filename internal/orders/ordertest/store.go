// Package ordertest provides an in-memory orders.Store for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// MemStore serializes transactions behind one mutex and rolls back by
// restoring a snapshot when fn fails.
type MemStore struct {
	mu       sync.Mutex
	books    map[int64]orders.Book
	accounts map[int64]orders.Account
	orders   map[string]orders.Order
	numbers  map[string]string
	lineSeq  int64

	// Commits counts successful transactions.
	Commits int
}

var _ orders.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		books:    map[int64]orders.Book{},
		accounts: map[int64]orders.Account{},
		orders:   map[string]orders.Order{},
		numbers:  map[string]string{},
	}
}

func (m *MemStore) PutBook(b orders.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

func (m *MemStore) PutAccount(a orders.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

// TakeNumber marks an order number as already used.
func (m *MemStore) TakeNumber(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers[number] = ""
}

func (m *MemStore) Stock(bookID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[bookID].Stock
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type snapshot struct {
	books   map[int64]orders.Book
	orders  map[string]orders.Order
	numbers map[string]string
	lineSeq int64
}

func (m *MemStore) snapshot() snapshot {
	s := snapshot{
		books:   make(map[int64]orders.Book, len(m.books)),
		orders:  make(map[string]orders.Order, len(m.orders)),
		numbers: make(map[string]string, len(m.numbers)),
		lineSeq: m.lineSeq,
	}
	for k, v := range m.books {
		s.books[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = cloneOrder(v)
	}
	for k, v := range m.numbers {
		s.numbers[k] = v
	}
	return s
}

func (m *MemStore) restore(s snapshot) {
	m.books, m.orders, m.numbers, m.lineSeq = s.books, s.orders, s.numbers, s.lineSeq
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	m.Commits++
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemStore) GetOrderByNumber(ctx context.Context, number string) (orders.Order, error) {
	m.mu.Lock()
	id, ok := m.numbers[number]
	m.mu.Unlock()
	if !ok || id == "" {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return m.GetOrder(ctx, id)
}

func (m *MemStore) ListOrdersByUser(_ context.Context, userID int64) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) ListBooks(context.Context) ([]orders.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetBook(_ context.Context, id int64) (orders.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return orders.Book{}, inventory.ErrBookNotFound
	}
	return b, nil
}

// memTx runs with MemStore.mu held.
type memTx struct{ m *MemStore }

func (t *memTx) DecrementStock(_ context.Context, bookID int64, qty int) (bool, error) {
	b, ok := t.m.books[bookID]
	if !ok || b.Stock < qty {
		return false, nil
	}
	b.Stock -= qty
	t.m.books[bookID] = b
	return true, nil
}

func (t *memTx) IncrementStock(_ context.Context, bookID int64, qty int) error {
	b, ok := t.m.books[bookID]
	if !ok {
		return inventory.ErrBookNotFound
	}
	b.Stock += qty
	t.m.books[bookID] = b
	return nil
}

func (t *memTx) StockLevel(_ context.Context, bookID int64) (int, error) {
	b, ok := t.m.books[bookID]
	if !ok {
		return 0, inventory.ErrBookNotFound
	}
	return b.Stock, nil
}

func (t *memTx) LookupAccount(_ context.Context, userID int64) (orders.Account, error) {
	a, ok := t.m.accounts[userID]
	if !ok {
		return orders.Account{}, orders.ErrUnauthenticated
	}
	return a, nil
}

func (t *memTx) LockBooks(_ context.Context, ids []int64) (map[int64]orders.Book, error) {
	out := make(map[int64]orders.Book, len(ids))
	for _, id := range ids {
		if b, ok := t.m.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, taken := t.m.numbers[o.Number]; taken {
		return orders.ErrOrderNumberTaken
	}
	for i := range o.Lines {
		t.m.lineSeq++
		o.Lines[i].ID = t.m.lineSeq
		o.Lines[i].OrderID = o.ID
	}
	t.m.orders[o.ID] = cloneOrder(*o)
	t.m.numbers[o.Number] = o.ID
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (orders.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id string, status orders.Status, total int64) error {
	o, ok := t.m.orders[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.Status = status
	o.Total = total
	t.m.orders[id] = o
	return nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Lines = append([]orders.OrderLine(nil), o.Lines...)
	return o
}
