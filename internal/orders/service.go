package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
)

const (
	DefaultPaymentMethod     = "cod"
	DefaultMaxNumberAttempts = 3
)

var tracer = otel.Tracer("github.com/ariefcatur/go-bookstore-orders/internal/orders")

type ServiceDeps struct {
	Store   Store
	Ledger  *inventory.Ledger
	Numbers *NumberGenerator
	Events  EventSink
	Logger  *zap.Logger
	Clock   func() time.Time
	NewID   func() string
	// Producer is stamped on emitted envelopes.
	Producer string

	AllowGuest             bool
	RejectDisabledAccounts bool
	MaxNumberAttempts      int
}

type Service struct {
	store    Store
	ledger   *inventory.Ledger
	numbers  *NumberGenerator
	events   EventSink
	logger   *zap.Logger
	clock    func() time.Time
	newID    func() string
	producer string
	policy   *bluemonday.Policy

	allowGuest     bool
	rejectDisabled bool
	maxAttempts    int
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("orders service: store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger(logger)
	}
	numbers := deps.Numbers
	if numbers == nil {
		numbers = NewNumberGenerator(DefaultNumberPrefix, DefaultNumberTokenLen)
	}
	events := deps.Events
	if events == nil {
		events = nopSink{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	producer := deps.Producer
	if producer == "" {
		producer = "bookstore-api"
	}
	attempts := deps.MaxNumberAttempts
	if attempts <= 0 {
		attempts = DefaultMaxNumberAttempts
	}

	return &Service{
		store:   deps.Store,
		ledger:  ledger,
		numbers: numbers,
		events:  events,
		logger:  logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          newID,
		producer:       producer,
		policy:         bluemonday.StrictPolicy(),
		allowGuest:     deps.AllowGuest,
		rejectDisabled: deps.RejectDisabledAccounts,
		maxAttempts:    attempts,
	}, nil
}

type PlaceOrderCommand struct {
	// Actor is nil for a guest.
	Actor           *Actor
	Cart            Cart
	Form            OrderForm
	SelectedBookIDs []int64
}

// PlaceOrder turns the selected cart lines into an order. Stock, the order
// header and its lines are written in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder")
	defer func() { endSpan(span, err) }()

	if cmd.Actor == nil && !s.allowGuest {
		return Order{}, ErrUnauthenticated
	}
	selected := uniqueIDs(cmd.SelectedBookIDs)
	if len(selected) == 0 {
		return Order{}, ErrEmptySelection
	}
	if cmd.Cart == nil {
		return Order{}, ErrSelectionNotInCart
	}
	matched, err := cmd.Cart.Filter(ctx, selected)
	if err != nil {
		return Order{}, fmt.Errorf("read cart: %w", err)
	}
	if len(matched) == 0 {
		return Order{}, ErrSelectionNotInCart
	}
	form, err := s.normalizeForm(cmd.Form)
	if err != nil {
		return Order{}, err
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].BookID < matched[j].BookID })
	span.SetAttributes(attribute.Int("order.lines", len(matched)))

	order := Order{
		ID:              s.newID(),
		CustomerName:    form.CustomerName,
		CustomerPhone:   form.CustomerPhone,
		CustomerEmail:   form.CustomerEmail,
		ShippingAddress: form.ShippingAddress,
		Notes:           form.Notes,
		PaymentMethod:   form.PaymentMethod,
		Status:          StatusPlaced,
	}
	if cmd.Actor != nil {
		uid := cmd.Actor.UserID
		order.UserID = &uid
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if cmd.Actor != nil {
			acct, err := tx.LookupAccount(ctx, cmd.Actor.UserID)
			if err != nil {
				return err
			}
			if !acct.Enabled && s.rejectDisabled {
				return ErrAccountDisabled
			}
		}

		ids := make([]int64, 0, len(matched))
		for _, l := range matched {
			ids = append(ids, l.BookID)
		}
		books, err := tx.LockBooks(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock books: %w", err)
		}

		lines := make([]OrderLine, 0, len(matched))
		reserve := make([]inventory.Line, 0, len(matched))
		for _, l := range matched {
			b, ok := books[l.BookID]
			if !ok {
				return fmt.Errorf("%w: %d", inventory.ErrBookNotFound, l.BookID)
			}
			price, ok := b.EffectivePrice()
			if !ok {
				return &MissingPriceError{BookID: l.BookID}
			}
			lines = append(lines, OrderLine{BookID: l.BookID, Quantity: l.Quantity, Price: price})
			reserve = append(reserve, inventory.Line{BookID: l.BookID, Quantity: l.Quantity})
		}

		if err := s.ledger.ReserveAll(ctx, tx, reserve); err != nil {
			return err
		}

		order.Lines = lines
		order.Total = LinesTotal(lines)
		return s.insertWithFreshNumber(ctx, tx, &order)
	})
	if err != nil {
		return Order{}, err
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.Number),
		attribute.Int64("order.total", order.Total),
	)
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.Int64("total", order.Total),
		zap.Int("lines", len(order.Lines)),
	)

	purchased := make([]int64, 0, len(order.Lines))
	for _, l := range order.Lines {
		purchased = append(purchased, l.BookID)
	}
	if err := cmd.Cart.Remove(ctx, purchased); err != nil {
		s.logger.Warn("remove purchased lines from cart",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}

	s.emit(ctx, span, TopicOrderPlaced, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Lines:       linePayloads(order.Lines),
		Total:       order.Total,
		Status:      order.Status,
	})
	return order, nil
}

func (s *Service) insertWithFreshNumber(ctx context.Context, tx Tx, o *Order) error {
	now := s.clock()
	o.CreatedAt, o.UpdatedAt = now, now
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		o.Number = s.numbers.Mint()
		err := tx.InsertOrder(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrOrderNumberTaken) {
			return fmt.Errorf("insert order: %w", err)
		}
		s.logger.Warn("order number collision",
			zap.String("order_number", o.Number),
			zap.Int("attempt", attempt),
		)
	}
	o.Number = ""
	return ErrOrderNumberExhausted
}

// UpdateStatus moves an order to target. Canceling releases every line's
// stock and zeroes the total; un-canceling reserves it again and recomputes
// the total. Setting the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, orderID, target string) (err error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	to, err := ParseStatus(target)
	if err != nil {
		return err
	}

	var (
		before Order
		after  Order
		kind   transition
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		before = o
		kind = classify(o.Status, to)

		total := o.Total
		switch kind {
		case transitionNoop:
			return nil
		case transitionCancel:
			if err := s.ledger.ReleaseAll(ctx, tx, inventoryLines(o.Lines)); err != nil {
				return err
			}
			total = 0
		case transitionRestore:
			if err := s.restore(ctx, tx, o); err != nil {
				return err
			}
			total = LinesTotal(o.Lines)
		}

		if err := tx.UpdateOrderStatus(ctx, o.ID, to, total); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		after = o
		after.Status = to
		after.Total = total
		return nil
	})
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.String("order.transition", kind.String()))
	if kind == transitionNoop {
		return nil
	}
	if kind == transitionPlain && !IsForward(before.Status, to) {
		s.logger.Warn("order moved off the forward path",
			zap.String("order_id", orderID),
			zap.String("from", string(before.Status)),
			zap.String("to", string(to)),
		)
	}
	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(to)),
		zap.String("transition", kind.String()),
		zap.Int64("total", after.Total),
	)

	s.emit(ctx, span, TopicOrderStatusChanged, EventOrderStatusChanged, orderID, StatusChangedPayload{
		OrderID:     orderID,
		OrderNumber: after.Number,
		UserID:      after.UserID,
		From:        before.Status,
		To:          to,
		Total:       after.Total,
		Transition:  kind.String(),
	})
	return nil
}

func (s *Service) restore(ctx context.Context, tx Tx, o Order) error {
	ids := make([]int64, 0, len(o.Lines))
	for _, l := range o.Lines {
		ids = append(ids, l.BookID)
	}
	if _, err := tx.LockBooks(ctx, uniqueIDs(ids)); err != nil {
		return fmt.Errorf("lock books: %w", err)
	}

	err := s.ledger.ReserveAll(ctx, tx, inventoryLines(o.Lines))
	var stockErr *inventory.InsufficientStockError
	if errors.As(err, &stockErr) {
		return &RestoreInsufficientStockError{OrderID: o.ID, Cause: err}
	}
	return err
}

func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	return s.store.GetOrderByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
}

// ListOrdersByUser returns the user's orders, newest first.
func (s *Service) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

func (s *Service) ListBooks(ctx context.Context) ([]Book, error) {
	return s.store.ListBooks(ctx)
}

func (s *Service) GetBook(ctx context.Context, id int64) (Book, error) {
	return s.store.GetBook(ctx, id)
}

func (s *Service) emit(ctx context.Context, span trace.Span, topic, eventType, orderID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       ulid.Make().String(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    s.clock(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       raw,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if err := s.events.Emit(ctx, topic, orderID, env); err != nil {
		s.logger.Error("emit event",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

const (
	maxNameLen    = 150
	maxPhoneLen   = 30
	maxEmailLen   = 150
	maxAddressLen = 500
	maxNotesLen   = 500
	maxPaymentLen = 50

	// sanitize passes before falling back to the escaped form
	maxSanitizePasses = 6
)

func (s *Service) normalizeForm(f OrderForm) (OrderForm, error) {
	out := OrderForm{
		CustomerName:    s.plainText(f.CustomerName),
		CustomerPhone:   strings.TrimSpace(f.CustomerPhone),
		CustomerEmail:   strings.TrimSpace(f.CustomerEmail),
		ShippingAddress: s.plainText(f.ShippingAddress),
		Notes:           s.plainText(f.Notes),
		PaymentMethod:   strings.ToLower(s.plainText(f.PaymentMethod)),
	}
	if out.PaymentMethod == "" {
		out.PaymentMethod = DefaultPaymentMethod
	}

	required := []struct {
		field, value string
		max          int
	}{
		{"customer_name", out.CustomerName, maxNameLen},
		{"customer_phone", out.CustomerPhone, maxPhoneLen},
		{"shipping_address", out.ShippingAddress, maxAddressLen},
	}
	for _, r := range required {
		if r.value == "" {
			return OrderForm{}, &FormError{Field: r.field, Reason: "is required"}
		}
		if utf8.RuneCountInString(r.value) > r.max {
			return OrderForm{}, &FormError{Field: r.field, Reason: fmt.Sprintf("exceeds %d characters", r.max)}
		}
	}
	if out.CustomerEmail != "" {
		if utf8.RuneCountInString(out.CustomerEmail) > maxEmailLen {
			return OrderForm{}, &FormError{Field: "customer_email", Reason: fmt.Sprintf("exceeds %d characters", maxEmailLen)}
		}
		if _, err := mail.ParseAddress(out.CustomerEmail); err != nil {
			return OrderForm{}, &FormError{Field: "customer_email", Reason: "is not a valid address"}
		}
	}
	if utf8.RuneCountInString(out.Notes) > maxNotesLen {
		return OrderForm{}, &FormError{Field: "notes", Reason: fmt.Sprintf("exceeds %d characters", maxNotesLen)}
	}
	if utf8.RuneCountInString(out.PaymentMethod) > maxPaymentLen {
		return OrderForm{}, &FormError{Field: "payment_method", Reason: fmt.Sprintf("exceeds %d characters", maxPaymentLen)}
	}
	return out, nil
}

// plainText strips markup and leaves ordinary characters unescaped.
// Unescaping can surface entity-encoded tags, so the text is sanitized again
// until it is stable. Input that never settles is kept in escaped form.
func (s *Service) plainText(v string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		clean := s.policy.Sanitize(v)
		plain := html.UnescapeString(clean)
		if plain == v {
			return strings.TrimSpace(plain)
		}
		v = plain
	}
	return strings.TrimSpace(s.policy.Sanitize(v))
}

func inventoryLines(lines []OrderLine) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Line{BookID: l.BookID, Quantity: l.Quantity})
	}
	return out
}

// uniqueIDs drops duplicates and non-positive ids and sorts ascending.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
