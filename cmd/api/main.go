package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	"github.com/ariefcatur/go-bookstore-orders/internal/httpx"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-bookstore-orders/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders/internal/observability"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/postgres"
	"github.com/ariefcatur/go-bookstore-orders/internal/redisx"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, version, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	placed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, logger)
	placed.Start(ctx)
	changed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, logger)
	changed.Start(ctx)

	svc, err := orders.NewService(orders.ServiceDeps{
		Store:                  &orders.Repo{DB: db},
		Ledger:                 inventory.NewLedger(logger),
		Numbers:                orders.NewNumberGenerator(cfg.Checkout.OrderNumberPrefix, cfg.Checkout.OrderNumberTokenLen),
		Events:                 kafkax.NewPublisher(placed, changed),
		Logger:                 logger,
		Producer:               cfg.ServiceName,
		AllowGuest:             cfg.Checkout.AllowGuest,
		RejectDisabledAccounts: cfg.Checkout.RejectDisabledAccounts,
		MaxNumberAttempts:      cfg.Checkout.OrderNumberAttempts,
	})
	if err != nil {
		logger.Fatal("orders service", zap.Error(err))
	}

	carts := func(sid string) cart.Cart {
		return cart.NewSession(rdb, sid, cfg.Cart.TTL)
	}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{
		Orders:  svc,
		Carts:   carts,
		Redis:   rdb,
		Limiter: httpx.NewLimiter(cfg.Checkout.RatePerMinute, cfg.Checkout.RateBurst),
		Logger:  logger,
	}).Register(router)
	(&httpx.CartHandler{
		Carts:  carts,
		Books:  svc,
		Logger: logger,
	}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// flush pending events before the writers close
	placed.Close()
	changed.Close()
	placed.WaitClosed()
	changed.WaitClosed()
	cancel()

	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
