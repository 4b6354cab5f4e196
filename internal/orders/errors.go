package orders

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated      = errors.New("orders: unauthenticated")
	ErrAccountDisabled      = errors.New("orders: account disabled")
	ErrInvalidForm          = errors.New("orders: invalid checkout form")
	ErrEmptySelection       = errors.New("orders: no books selected")
	ErrSelectionNotInCart   = errors.New("orders: selected books are not in the cart")
	ErrOrderNumberExhausted = errors.New("orders: could not mint a unique order number")
	ErrOrderNotFound        = errors.New("orders: order not found")
	ErrUnknownStatus        = errors.New("orders: unknown status")

	// ErrOrderNumberTaken is returned by Tx.InsertOrder when the number already exists.
	ErrOrderNumberTaken = errors.New("orders: order number taken")
)

// MissingPriceError is returned when a selected book has neither a list nor a discount price.
type MissingPriceError struct {
	BookID int64
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("orders: book %d has no price", e.BookID)
}

// RestoreInsufficientStockError wraps the stock failure that blocked un-canceling an order.
type RestoreInsufficientStockError struct {
	OrderID string
	Cause   error
}

func (e *RestoreInsufficientStockError) Error() string {
	return fmt.Sprintf("orders: cannot restore order %s: %v", e.OrderID, e.Cause)
}

func (e *RestoreInsufficientStockError) Unwrap() error { return e.Cause }

// FormError names the offending field.
type FormError struct {
	Field  string
	Reason string
}

func (e *FormError) Error() string {
	return fmt.Sprintf("orders: %s %s", e.Field, e.Reason)
}

func (e *FormError) Unwrap() error { return ErrInvalidForm }
