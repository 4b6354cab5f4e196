package orders_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/postgres"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping Postgres tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE order_items, orders, books, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO users(id, email, enabled) VALUES (42, 'andrea@example.com', TRUE);
		INSERT INTO books(id, title, price, discount_price, stock) VALUES
			(1, 'Laskar Pelangi', 100000, NULL, 5),
			(2, 'Bumi Manusia', 120000, 50000, 3),
			(3, 'Ronggeng Dukuh Paruk', 80000, NULL, 1),
			(4, 'Unpriced', NULL, NULL, 9);`)
	require.NoError(t, err)
	return pool
}

func stockOf(t *testing.T, pool *pgxpool.Pool, id int64) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM books WHERE id = $1`, id).Scan(&n))
	return n
}

func newRepoService(t *testing.T, pool *pgxpool.Pool) *orders.Service {
	t.Helper()
	svc, err := orders.NewService(orders.ServiceDeps{
		Store:                  &orders.Repo{DB: pool},
		RejectDisabledAccounts: true,
	})
	require.NoError(t, err)
	return svc
}

func TestRepoPlaceCancelRestore(t *testing.T) {
	pool := setupTestDB(t)
	svc := newRepoService(t, pool)
	ctx := context.Background()

	c := cart.NewMemory(cart.Line{BookID: 1, Quantity: 1}, cart.Line{BookID: 2, Quantity: 2})
	o, err := svc.PlaceOrder(ctx, orders.PlaceOrderCommand{
		Actor: &orders.Actor{UserID: shopper}, Cart: c, Form: validForm(), SelectedBookIDs: []int64{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), o.Total)
	assert.Equal(t, 4, stockOf(t, pool, 1))
	assert.Equal(t, 1, stockOf(t, pool, 2))
	for _, l := range o.Lines {
		assert.NotZero(t, l.ID)
	}

	require.NoError(t, svc.UpdateStatus(ctx, o.ID, "canceled"))
	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Total)
	assert.Equal(t, 5, stockOf(t, pool, 1))
	assert.Equal(t, 3, stockOf(t, pool, 2))

	require.NoError(t, svc.UpdateStatus(ctx, o.ID, "PLACED"))
	got, err = svc.GetOrderByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), got.Total)
	assert.Len(t, got.Lines, 2)
	assert.Equal(t, 4, stockOf(t, pool, 1))

	list, err := svc.ListOrdersByUser(ctx, shopper)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].ID)
}

func TestRepoFailuresLeaveNoTrace(t *testing.T) {
	pool := setupTestDB(t)
	svc := newRepoService(t, pool)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, orders.PlaceOrderCommand{
		Actor:           &orders.Actor{UserID: shopper},
		Cart:            cart.NewMemory(cart.Line{BookID: 1, Quantity: 2}, cart.Line{BookID: 3, Quantity: 2}),
		Form:            validForm(),
		SelectedBookIDs: []int64{1, 3},
	})
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.BookID)
	assert.Equal(t, 5, stockOf(t, pool, 1))

	_, err = svc.PlaceOrder(ctx, orders.PlaceOrderCommand{
		Actor:           &orders.Actor{UserID: shopper},
		Cart:            cart.NewMemory(cart.Line{BookID: 4, Quantity: 1}),
		Form:            validForm(),
		SelectedBookIDs: []int64{4},
	})
	var priceErr *orders.MissingPriceError
	require.ErrorAs(t, err, &priceErr)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n))
	assert.Zero(t, n)

	_, err = svc.GetOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestRepoDuplicateNumberKeepsTxUsable(t *testing.T) {
	pool := setupTestDB(t)
	repo := &orders.Repo{DB: pool}
	ctx := context.Background()
	now := time.Now().UTC()

	first := orders.Order{
		ID: "6f1c1b8e-6d0c-4d0b-9a57-0d6a1d6f0001", Number: "ORD-20240501-AAAAA",
		CustomerName: "A", CustomerPhone: "1", ShippingAddress: "x", PaymentMethod: "cod",
		Status: orders.StatusPlaced, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, &first) }))

	err := repo.InTx(ctx, func(tx orders.Tx) error {
		dup := first
		dup.ID = "6f1c1b8e-6d0c-4d0b-9a57-0d6a1d6f0002"
		if err := tx.InsertOrder(ctx, &dup); err != orders.ErrOrderNumberTaken {
			t.Errorf("want ErrOrderNumberTaken, got %v", err)
		}
		dup.Number = "ORD-20240501-BBBBB"
		return tx.InsertOrder(ctx, &dup)
	})
	require.NoError(t, err)

	got, err := repo.GetOrderByNumber(ctx, "ORD-20240501-BBBBB")
	require.NoError(t, err)
	assert.Equal(t, "6f1c1b8e-6d0c-4d0b-9a57-0d6a1d6f0002", got.ID)
}

func TestRepoConcurrentLastCopy(t *testing.T) {
	pool := setupTestDB(t)
	svc := newRepoService(t, pool)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderCommand{
				Actor:           &orders.Actor{UserID: shopper},
				Cart:            cart.NewMemory(cart.Line{BookID: 3, Quantity: 1}),
				Form:            validForm(),
				SelectedBookIDs: []int64{3},
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, stockOf(t, pool, 3))
}
