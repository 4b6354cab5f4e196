package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
)

// CartFactory opens the cart of a session.
type CartFactory func(sessionID string) cart.Cart

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Orders *orders.Service
	Carts  CartFactory
	// Redis backs the status cache and checkout idempotency. Nil disables both.
	Redis   *redis.Client
	Limiter *Limiter
	Logger  *zap.Logger
}

type CheckoutReq struct {
	BookIDs []int64 `json:"book_ids"`
	orders.OrderForm
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Get("/books", h.listBooks)
	r.With(h.Limiter.Middleware).Post("/checkout", h.checkout)
	r.Get("/orders", h.listMine)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Get("/orders/number/{number}", h.getByNumber)
	r.Post("/admin/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	books, err := h.Orders.ListBooks(ctx)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if books == nil {
		books = []orders.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	sid := sessionID(r)
	if sid == "" {
		badRequest(w, "missing session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(r)
	idemKey := ""
	if k := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); k != "" && h.Redis != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, idempotencyScope(actor, sid), k)
		claimed, err := h.Redis.SetNX(ctx, idemKey, idemPending, redisx.TTLIdemPending).Result()
		switch {
		case err != nil:
			h.Logger.Warn("claim checkout idempotency key", zap.Error(err))
			idemKey = ""
		case !claimed:
			h.replayCheckout(ctx, w, actor, idemKey)
			return
		}
	}

	o, err := h.Orders.PlaceOrder(ctx, orders.PlaceOrderCommand{
		Actor:           actor,
		Cart:            h.Carts(sid),
		Form:            req.OrderForm,
		SelectedBookIDs: req.BookIDs,
	})
	if err != nil {
		if idemKey != "" {
			// release the claim so the client may retry with the same key
			if derr := h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err(); derr != nil {
				h.Logger.Warn("release checkout idempotency key", zap.Error(derr))
			}
		}
		writeError(w, h.Logger, err)
		return
	}

	if h.Redis != nil {
		if idemKey != "" {
			if err := h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
				h.Logger.Warn("store checkout idempotency key", zap.Error(err))
			}
		}
		h.cacheStatus(ctx, o)
	}
	writeJSON(w, http.StatusCreated, o)
}

const idemPending = "pending"

// idempotencyScope keys checkout replays by user, or by session for guests.
func idempotencyScope(actor *orders.Actor, sid string) string {
	if actor != nil {
		return "u" + strconv.FormatInt(actor.UserID, 10)
	}
	return "s" + sid
}

// replayCheckout answers a request whose idempotency key is already claimed:
// 409 while the first request is still placing the order, the order itself
// once it exists.
func (h *OrdersHandler) replayCheckout(ctx context.Context, w http.ResponseWriter, actor *orders.Actor, idemKey string) {
	id, err := h.Redis.Get(ctx, idemKey).Result()
	if errors.Is(err, redis.Nil) || id == idemPending {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, errorBody{Error: "checkout_in_progress", Message: "a checkout with this idempotency key is in progress"})
		return
	}
	if err != nil {
		writeError(w, h.Logger, fmt.Errorf("read checkout idempotency key: %w", err))
		return
	}
	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if !ownsReplay(o, actor) {
		writeError(w, h.Logger, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ownsReplay is BelongsTo, plus guest orders replayed by a guest of the same
// session scope.
func ownsReplay(o orders.Order, actor *orders.Actor) bool {
	if actor == nil {
		return o.UserID == nil
	}
	return o.BelongsTo(actor)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor == nil {
		writeError(w, h.Logger, orders.ErrUnauthenticated)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrdersByUser(ctx, actor.UserID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	h.writeOwned(ctx, w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	})
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	h.writeOwned(ctx, w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Orders.GetOrderByNumber(ctx, chi.URLParam(r, "number"))
	})
}

// writeOwned answers 404 to callers who do not own the order so that order
// ids and numbers cannot be probed.
func (h *OrdersHandler) writeOwned(ctx context.Context, w http.ResponseWriter, r *http.Request, load func(context.Context) (orders.Order, error)) {
	actor := actorFrom(r)
	if actor == nil {
		writeError(w, h.Logger, orders.ErrUnauthenticated)
		return
	}
	o, err := load(ctx)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if !o.BelongsTo(actor) {
		writeError(w, h.Logger, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor == nil {
		writeError(w, h.Logger, orders.ErrUnauthenticated)
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Redis != nil {
		st, ok, err := redisx.GetOrderStatus(ctx, h.Redis, orderID)
		if err != nil {
			h.Logger.Warn("read status cache", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			owner := orders.Order{UserID: st.UserID}
			if !owner.BelongsTo(actor) {
				writeError(w, h.Logger, orders.ErrOrderNotFound)
				return
			}
			writeJSON(w, http.StatusOK, st)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if !o.BelongsTo(actor) {
		writeError(w, h.Logger, orders.ErrOrderNotFound)
		return
	}
	if h.Redis != nil {
		h.cacheStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, statusOf(o))
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor == nil {
		writeError(w, h.Logger, orders.ErrUnauthenticated)
		return
	}
	if !actor.Admin {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "admin role required"})
		return
	}
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if err := h.Orders.UpdateStatus(ctx, orderID, req.Status); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if h.Redis != nil {
		h.cacheStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if err := redisx.PutOrderStatus(ctx, h.Redis, statusOf(o)); err != nil && !errors.Is(err, context.Canceled) {
		h.Logger.Warn("write status cache", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func statusOf(o orders.Order) redisx.OrderStatus {
	return redisx.OrderStatus{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Total:     o.Total,
		UpdatedAt: o.UpdatedAt,
	}
}
