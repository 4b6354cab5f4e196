// Package inventory is the single gate for changing a book's stock counter.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	ErrBookNotFound    = errors.New("inventory: book not found")
)

// InsufficientStockError reports a reservation that could not be satisfied.
type InsufficientStockError struct {
	BookID    int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for book %d: requested %d, available %d", e.BookID, e.Requested, e.Available)
}

// Stock is the storage side of the ledger. Implementations run inside the
// caller's transaction.
type Stock interface {
	// DecrementStock subtracts qty only if the current stock is at least qty,
	// as one conditional statement. It reports whether a row changed.
	DecrementStock(ctx context.Context, bookID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, bookID int64, qty int) error
	// StockLevel returns ErrBookNotFound for an unknown book.
	StockLevel(ctx context.Context, bookID int64) (int, error)
}

type Line struct {
	BookID   int64
	Quantity int
}

type Ledger struct {
	logger *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger}
}

// Reserve takes qty units of bookID. On failure nothing is changed.
func (l *Ledger) Reserve(ctx context.Context, s Stock, bookID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: book %d quantity %d", ErrInvalidQuantity, bookID, qty)
	}
	ok, err := s.DecrementStock(ctx, bookID, qty)
	if err != nil {
		return fmt.Errorf("reserve book %d: %w", bookID, err)
	}
	if ok {
		return nil
	}

	available, err := s.StockLevel(ctx, bookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
		}
		return fmt.Errorf("read stock of book %d: %w", bookID, err)
	}
	l.logger.Debug("reservation rejected",
		zap.Int64("book_id", bookID),
		zap.Int("requested", qty),
		zap.Int("available", available),
	)
	return &InsufficientStockError{BookID: bookID, Requested: qty, Available: available}
}

// Release gives qty units of bookID back unconditionally.
func (l *Ledger) Release(ctx context.Context, s Stock, bookID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: book %d quantity %d", ErrInvalidQuantity, bookID, qty)
	}
	if err := s.IncrementStock(ctx, bookID, qty); err != nil {
		return fmt.Errorf("release book %d: %w", bookID, err)
	}
	return nil
}

// ReserveAll reserves every line and stops at the first failure. Lines already
// reserved stay applied; the enclosing transaction must be rolled back.
func (l *Ledger) ReserveAll(ctx context.Context, s Stock, lines []Line) error {
	for _, ln := range lines {
		if err := l.Reserve(ctx, s, ln.BookID, ln.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) ReleaseAll(ctx context.Context, s Stock, lines []Line) error {
	for _, ln := range lines {
		if err := l.Release(ctx, s, ln.BookID, ln.Quantity); err != nil {
			return err
		}
	}
	return nil
}
