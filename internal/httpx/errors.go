package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	BookID  int64  `json:"book_id,omitempty"`
	// Requested and Available are set for stock failures.
	Requested *int `json:"requested,omitempty"`
	Available *int `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

// writeError maps domain errors to status codes. Anything unrecognized is
// logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		stockErr   *inventory.InsufficientStockError
		restoreErr *orders.RestoreInsufficientStockError
		priceErr   *orders.MissingPriceError
		formErr    *orders.FormError
	)
	switch {
	case errors.As(err, &restoreErr) && errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, stockBody("restore_insufficient_stock", err, stockErr))
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, stockBody("insufficient_stock", err, stockErr))
	case errors.As(err, &formErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid_form", Message: err.Error(), Field: formErr.Field})
	case errors.As(err, &priceErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "missing_price", Message: err.Error(), BookID: priceErr.BookID})
	case errors.Is(err, orders.ErrEmptySelection):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "empty_selection", Message: err.Error()})
	case errors.Is(err, orders.ErrSelectionNotInCart):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "selection_not_in_cart", Message: err.Error()})
	case errors.Is(err, orders.ErrUnknownStatus):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "unknown_status", Message: err.Error()})
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrInvalidBook), errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid_quantity", Message: err.Error()})
	case errors.Is(err, orders.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: err.Error()})
	case errors.Is(err, orders.ErrAccountDisabled):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "account_disabled", Message: err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order_not_found", Message: err.Error()})
	case errors.Is(err, inventory.ErrBookNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "book_not_found", Message: err.Error()})
	case errors.Is(err, orders.ErrOrderNumberExhausted):
		logger.Error("order number space exhausted", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "order_number_exhausted", Message: "please retry"})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal server error"})
	}
}

func stockBody(code string, err error, e *inventory.InsufficientStockError) errorBody {
	req, avail := e.Requested, e.Available
	return errorBody{Error: code, Message: err.Error(), BookID: e.BookID, Requested: &req, Available: &avail}
}
