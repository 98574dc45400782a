package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore-backoffice/internal/adapter/handler"
	"github.com/rl1809/bookstore-backoffice/internal/adapter/messaging"
	"github.com/rl1809/bookstore-backoffice/internal/adapter/storage"
	"github.com/rl1809/bookstore-backoffice/internal/config"
	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/core/service"
	"github.com/rl1809/bookstore-backoffice/internal/observability"
	"github.com/rl1809/bookstore-backoffice/internal/port"
)

// backend is everything the services need from a storage adapter.
type backend interface {
	port.Ledger
	port.StockQuery
	port.OrderRepository
	port.Catalog
	port.Transactor
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("failed to setup tracing", zap.Error(err))
	}

	// Initialize storage
	var (
		store backend
		db    *sql.DB
	)
	switch cfg.Storage {
	case config.StorageMySQL:
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		store = mysqlAdapter
		logger.Info("connected to mysql")
	case config.StorageMemory:
		memory := storage.NewMemoryAdapter()
		seedDemo(ctx, memory, logger)
		store = memory
		logger.Info("using in-memory storage")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	redisAdapter := storage.NewRedisAdapter(rdb)

	// Initialize event publishing
	var (
		publisher port.EventPublisher
		writer    interface{ Close() error }
	)
	if len(cfg.KafkaBrokers) > 0 {
		w := messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		writer = w
		publisher = messaging.NewKafkaPublisher(w, logger)
		logger.Info("publishing order events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// Initialize services
	warehouseService := service.NewWarehouseService(store, store, store, logger)
	orderService := service.NewOrderService(warehouseService, store, store, store, cfg.QueueSize,
		service.WithLogger(logger),
		service.WithIdempotency(redisAdapter),
	)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, orderService.Events(), publisher, logger)
		}(i)
	}
	logger.Info("started workers", zap.Int("count", cfg.WorkerCount))

	// Initialize gRPC server
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(orderService, logger))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.NewHTTPHandler(orderService, warehouseService, logger)),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close event queue and wait for workers to drain it
	orderService.Close()
	wg.Wait()
	logger.Info("workers stopped")

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close kafka writer", zap.Error(err))
		}
	}
	rdb.Close()
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracing", zap.Error(err))
	}
	logger.Info("connections closed")
}

func workerLoop(id int, events <-chan domain.OrderEvent, publisher port.EventPublisher, logger *zap.Logger) {
	for event := range events {
		if publisher == nil {
			logger.Debug("order event", zap.Int("worker", id), zap.String("order_id", event.OrderID), zap.String("type", string(event.Type)))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.Publish(ctx, event); err != nil {
			logger.Error("failed to publish order event",
				zap.Int("worker", id), zap.String("order_id", event.OrderID), zap.Error(err))
		}
		cancel()
	}
}

// seedDemo fills the in-memory catalog and warehouse so the API is usable
// without a database.
func seedDemo(ctx context.Context, memory *storage.MemoryAdapter, logger *zap.Logger) {
	memory.AddClient("demo-client")
	books := map[string]string{
		"978-0134190440": "34.99",
		"978-1491941195": "39.99",
		"978-0262033848": "89.00",
	}
	for isbn, price := range books {
		memory.AddBook(isbn)
		if _, err := memory.Upsert(ctx, domain.StockItem{BookID: isbn, Quantity: 100, Price: decimal.RequireFromString(price)}); err != nil {
			logger.Fatal("failed to seed stock", zap.String("book_id", isbn), zap.Error(err))
		}
	}
	logger.Info("seeded demo catalog", zap.Int("books", len(books)))
}
