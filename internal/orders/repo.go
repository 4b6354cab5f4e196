package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx, span := tracer.Start(ctx, "orders.Repo.InTx")
	defer func() { endSpan(span, err) }()

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) DecrementStock(ctx context.Context, bookID int64, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE books SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2`, bookID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) IncrementStock(ctx context.Context, bookID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE books SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1`, bookID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrBookNotFound
	}
	return nil
}

func (t *pgTx) StockLevel(ctx context.Context, bookID int64) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM books WHERE id = $1`, bookID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, inventory.ErrBookNotFound
	}
	return stock, err
}

func (t *pgTx) LookupAccount(ctx context.Context, userID int64) (Account, error) {
	var a Account
	err := t.tx.QueryRow(ctx, `SELECT id, enabled FROM users WHERE id = $1`, userID).Scan(&a.ID, &a.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrUnauthenticated
	}
	return a, err
}

// LockBooks takes row locks in ascending id order so concurrent checkouts
// touching the same books cannot deadlock.
func (t *pgTx) LockBooks(ctx context.Context, ids []int64) (map[int64]Book, error) {
	rows, err := t.tx.Query(ctx, selectBook+` WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Book, len(ids))
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, user_id, customer_name, customer_phone, customer_email,
		                   shipping_address, notes, payment_method, total_amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (order_number) DO NOTHING
		RETURNING created_at, updated_at`,
		o.ID, o.Number, o.UserID, o.CustomerName, o.CustomerPhone, nullString(o.CustomerEmail),
		o.ShippingAddress, nullString(o.Notes), o.PaymentMethod, o.Total, string(o.Status), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNumberTaken
	}
	if err != nil {
		return err
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, book_id, quantity, price)
			VALUES ($1,$2,$3,$4)
			RETURNING id`, o.ID, l.BookID, l.Quantity, l.Price,
		).Scan(&l.ID); err != nil {
			return fmt.Errorf("insert line for book %d: %w", l.BookID, err)
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrOrderNotFound
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	lines, err := loadLines(ctx, t.tx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, status Status, total int64) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, total_amount = $3, updated_at = NOW()
		WHERE id = $1`, id, string(status), total)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrOrderNotFound
	}
	return r.getOne(ctx, selectOrder+` WHERE id = $1`, id)
}

func (r *Repo) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	return r.getOne(ctx, selectOrder+` WHERE order_number = $1`, number)
}

func (r *Repo) getOne(ctx context.Context, q string, arg any) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, q, arg))
	if err != nil {
		return Order{}, err
	}
	lines, err := loadLines(ctx, r.DB, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r *Repo) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC, order_number DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	lines, err := loadLines(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r *Repo) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := r.DB.Query(ctx, selectBook+` WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) GetBook(ctx context.Context, id int64) (Book, error) {
	b, err := scanBook(r.DB.QueryRow(ctx, selectBook+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, inventory.ErrBookNotFound
	}
	return b, err
}

const selectBook = `
	SELECT id, title, COALESCE(author, ''), price, discount_price, stock, enabled
	FROM books`

const selectOrder = `
	SELECT id::text, order_number, user_id, customer_name, customer_phone, COALESCE(customer_email, ''),
	       shipping_address, COALESCE(notes, ''), payment_method, total_amount, status, created_at, updated_at
	FROM orders`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.ShippingAddress, &o.Notes, &o.PaymentMethod, &o.Total, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.DiscountPrice, &b.Stock, &b.Enabled)
	return b, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, orderIDs []string) (map[string][]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id::text, book_id, quantity, price
		FROM order_items WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]OrderLine, len(orderIDs))
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.BookID, &l.Quantity, &l.Price); err != nil {
			return nil, err
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
