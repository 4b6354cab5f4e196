package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type BookLookup interface {
	GetBook(ctx context.Context, id int64) (orders.Book, error)
}

type CartHandler struct {
	Carts  CartFactory
	Books  BookLookup
	Logger *zap.Logger
}

type CartResp struct {
	Lines []cart.Line `json:"lines"`
	Count int         `json:"count"`
}

type AddItemReq struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

type SetQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.addItem)
		r.Patch("/items/{bookID}", h.setQuantity)
		r.Delete("/items/{bookID}", h.removeItem)
	})
}

// session answers 400 itself when the request has no session.
func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (cart.Cart, bool) {
	sid := sessionID(r)
	if sid == "" {
		badRequest(w, "missing session")
		return nil, false
	}
	return h.Carts(sid), true
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	h.writeCart(ctx, w, c)
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AddItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		writeError(w, h.Logger, cart.ErrInvalidQuantity)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	existing, err := c.Filter(ctx, []int64{req.BookID})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	want := req.Quantity + cart.Count(existing)
	if err := h.checkStock(ctx, req.BookID, want); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if _, err := c.Add(ctx, req.BookID, req.Quantity); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.writeCart(ctx, w, c)
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil {
		badRequest(w, "invalid book id")
		return
	}
	var req SetQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if req.Quantity > 0 {
		if err := h.checkStock(ctx, bookID, req.Quantity); err != nil {
			writeError(w, h.Logger, err)
			return
		}
	}
	if err := c.SetQuantity(ctx, bookID, req.Quantity); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.writeCart(ctx, w, c)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil {
		badRequest(w, "invalid book id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := c.Remove(ctx, []int64{bookID}); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.writeCart(ctx, w, c)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := c.Clear(ctx); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkStock is advisory; checkout re-checks under lock.
func (h *CartHandler) checkStock(ctx context.Context, bookID int64, want int) error {
	b, err := h.Books.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if !b.Enabled {
		return inventory.ErrBookNotFound
	}
	if want > b.Stock {
		return &inventory.InsufficientStockError{BookID: bookID, Requested: want, Available: b.Stock}
	}
	return nil
}

func (h *CartHandler) writeCart(ctx context.Context, w http.ResponseWriter, c cart.Cart) {
	lines, err := c.Lines(ctx)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if lines == nil {
		lines = []cart.Line{}
	}
	writeJSON(w, http.StatusOK, CartResp{Lines: lines, Count: cart.Count(lines)})
}
