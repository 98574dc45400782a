package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/adapter/storage"
	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/core/service"
)

const (
	bookID        = "978-stress-test"
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous test data
	rdb.Del(ctx, "stock:"+bookID)

	// Redis holds the stock, orders and catalog stay in memory
	ledger := storage.NewRedisAdapter(rdb)
	memory := storage.NewMemoryAdapter()
	memory.AddBook(bookID)

	if _, err := ledger.Upsert(ctx, domain.StockItem{BookID: bookID, Quantity: initialStock, Price: decimal.NewFromInt(10)}); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	orderService := service.NewOrderService(ledger, memory, memory, memory, queueSize)
	defer orderService.Close()

	// Drain the event queue in background
	go func() {
		for range orderService.Events() {
		}
	}()

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		clientID := fmt.Sprintf("client-%d", i)
		memory.AddClient(clientID)

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := orderService.CreateOrder(ctx, domain.Order{
				ClientID: clientID,
				Items:    []domain.SoldItem{{BookID: bookID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()
	wantSuccess := int32(initialStock - domain.StockReserve)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOut)
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == wantSuccess && soldOut == int32(totalRequests)-wantSuccess {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d sold out\n", success, soldOut)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			wantSuccess, int32(totalRequests)-wantSuccess, success, soldOut)
	}

	orders, _ := memory.SearchOrders(ctx, domain.OrderFilter{Limit: domain.MaxPageLimit})
	if len(orders) == int(success) {
		fmt.Printf("PASS: %d orders persisted\n", len(orders))
	} else {
		fmt.Printf("FAIL: Expected %d persisted orders, got %d\n", success, len(orders))
	}

	// Verify final stock in Redis
	item, err := ledger.Get(ctx, bookID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Redis Stock: %d\n", item.Quantity)

	if item.Quantity == domain.StockReserve {
		fmt.Printf("PASS: Stock drained down to the reserve of %d\n", domain.StockReserve)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", domain.StockReserve, item.Quantity)
	}
}
