package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStock map[int64]int

func (m mapStock) DecrementStock(_ context.Context, bookID int64, qty int) (bool, error) {
	cur, ok := m[bookID]
	if !ok || cur < qty {
		return false, nil
	}
	m[bookID] = cur - qty
	return true, nil
}

func (m mapStock) IncrementStock(_ context.Context, bookID int64, qty int) error {
	if _, ok := m[bookID]; !ok {
		return ErrBookNotFound
	}
	m[bookID] += qty
	return nil
}

func (m mapStock) StockLevel(_ context.Context, bookID int64) (int, error) {
	cur, ok := m[bookID]
	if !ok {
		return 0, ErrBookNotFound
	}
	return cur, nil
}

type failingStock struct{ mapStock }

func (failingStock) DecrementStock(context.Context, int64, int) (bool, error) {
	return false, errors.New("connection reset")
}

func TestReserveExactStockLeavesZero(t *testing.T) {
	s := mapStock{1: 5}
	require.NoError(t, NewLedger(nil).Reserve(context.Background(), s, 1, 5))
	assert.Equal(t, 0, s[1])
}

func TestReserveOverStockFailsWithoutMutation(t *testing.T) {
	s := mapStock{1: 5}
	err := NewLedger(nil).Reserve(context.Background(), s, 1, 6)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.BookID)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 5, s[1])
}

func TestReserveUnknownBook(t *testing.T) {
	err := NewLedger(nil).Reserve(context.Background(), mapStock{}, 99, 1)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	s := mapStock{1: 5}
	l := NewLedger(nil)
	assert.ErrorIs(t, l.Reserve(context.Background(), s, 1, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Release(context.Background(), s, 1, -2), ErrInvalidQuantity)
	assert.Equal(t, 5, s[1])
}

func TestReservePropagatesStorageErrors(t *testing.T) {
	err := NewLedger(nil).Reserve(context.Background(), failingStock{mapStock{1: 5}}, 1, 1)
	require.Error(t, err)
	var stockErr *InsufficientStockError
	assert.False(t, errors.As(err, &stockErr))
}

func TestReleaseIncrements(t *testing.T) {
	s := mapStock{1: 0}
	require.NoError(t, NewLedger(nil).Release(context.Background(), s, 1, 3))
	assert.Equal(t, 3, s[1])
}

func TestReserveAllStopsAtFirstFailure(t *testing.T) {
	s := mapStock{1: 2, 2: 1, 3: 9}
	err := NewLedger(nil).ReserveAll(context.Background(), s, []Line{
		{BookID: 1, Quantity: 2},
		{BookID: 2, Quantity: 4},
		{BookID: 3, Quantity: 1},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.BookID)
	// rollback is the transaction's job; the ledger only stops.
	assert.Equal(t, mapStock{1: 0, 2: 1, 3: 9}, s)
}

func TestReleaseAllThenReserveAllRoundTrips(t *testing.T) {
	s := mapStock{1: 4, 2: 0}
	lines := []Line{{BookID: 1, Quantity: 3}, {BookID: 2, Quantity: 2}}
	l := NewLedger(nil)

	require.NoError(t, l.ReleaseAll(context.Background(), s, lines))
	assert.Equal(t, mapStock{1: 7, 2: 2}, s)
	require.NoError(t, l.ReserveAll(context.Background(), s, lines))
	assert.Equal(t, mapStock{1: 4, 2: 0}, s)
}
