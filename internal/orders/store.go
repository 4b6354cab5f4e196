package orders

import (
	"context"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
)

// Cart is the part of a shopper's cart checkout needs.
type Cart interface {
	Filter(ctx context.Context, bookIDs []int64) ([]cart.Line, error)
	Remove(ctx context.Context, bookIDs []int64) error
}

// Store is the durable order store. InTx runs fn in one transaction and
// commits only when fn returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderByNumber(ctx context.Context, number string) (Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error)
	ListBooks(ctx context.Context) ([]Book, error)
	// GetBook returns inventory.ErrBookNotFound for an unknown id.
	GetBook(ctx context.Context, id int64) (Book, error)
}

// Tx is the transactional view used by checkout and status changes.
type Tx interface {
	inventory.Stock

	// LookupAccount returns ErrUnauthenticated for an unknown user.
	LookupAccount(ctx context.Context, userID int64) (Account, error)
	// LockBooks locks the rows in ascending id order. Missing ids are absent
	// from the result.
	LockBooks(ctx context.Context, ids []int64) (map[int64]Book, error)
	// InsertOrder writes the header and lines, filling in line ids and
	// timestamps. A duplicate number returns ErrOrderNumberTaken and leaves
	// the transaction usable.
	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder returns ErrOrderNotFound for an unknown id.
	LockOrder(ctx context.Context, id string) (Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status Status, total int64) error
}
