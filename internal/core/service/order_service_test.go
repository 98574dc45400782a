package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

type testEnv struct {
	ledger *mockLedger
	repo   *mockOrderRepo
	idem   *mockIdempotency
	svc    *OrderService
}

func newTestEnv(t *testing.T, ledger *mockLedger, queueSize int) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: ledger,
		repo:   newMockOrderRepo(),
		idem:   newMockIdempotency(),
	}
	catalog := &mockCatalog{clients: map[string]bool{"client-1": true, "client-2": true}}
	env.svc = NewOrderService(ledger, env.repo, catalog, passthroughTx{}, queueSize, WithIdempotency(env.idem))
	return env
}

// drain consumes events so emit never fills the queue.
func (e *testEnv) drain(t *testing.T) {
	go func() {
		for range e.svc.Events() {
		}
	}()
	t.Cleanup(e.svc.Close)
}

func content(clientID string, lines ...domain.SoldItem) domain.Order {
	return domain.Order{ClientID: clientID, Items: lines}
}

func line(bookID string, quantity int) domain.SoldItem {
	return domain.SoldItem{BookID: bookID, Quantity: quantity}
}

func TestCreateOrder_Success(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0").put("bookB", 5, "3.0"), 100)
	env.drain(t)

	order, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 2), line("bookB", 1)))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if env.ledger.quantity("bookA") != 8 || env.ledger.quantity("bookB") != 4 {
		t.Errorf("expected stock 8/4, got %d/%d", env.ledger.quantity("bookA"), env.ledger.quantity("bookB"))
	}
	if order.Status != domain.OrderStatusNew {
		t.Errorf("expected NEW, got %s", order.Status)
	}
	if order.ID == "" {
		t.Error("expected non-empty order ID")
	}
	if !order.Items[0].Price.Equal(decimal.RequireFromString("5.0")) || !order.Items[1].Price.Equal(decimal.RequireFromString("3.0")) {
		t.Errorf("unexpected line prices: %s, %s", order.Items[0].Price, order.Items[1].Price)
	}
	if !order.Total().Equal(decimal.NewFromInt(13)) {
		t.Errorf("expected total 13, got %s", order.Total())
	}

	stored, err := env.repo.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if len(stored.Items) != 2 {
		t.Errorf("expected 2 stored lines, got %d", len(stored.Items))
	}
}

func TestCreateOrder_IgnoresCallerPrice(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)

	req := content("client-1", domain.SoldItem{BookID: "bookA", Quantity: 1, Price: decimal.NewFromInt(1)})
	order, err := env.svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.Items[0].Price.Equal(decimal.RequireFromString("5.0")) {
		t.Errorf("expected ledger price 5.0, got %s", order.Items[0].Price)
	}
}

func TestCreateOrder_PriceCapturedAtCreation(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	order, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 1)))
	env.ledger.Return(ctx, "bookA", 0, decimal.NewNullDecimal(decimal.NewFromInt(9)))

	stored, _ := env.svc.GetOrder(ctx, order.ID)
	if !stored.Items[0].Price.Equal(decimal.RequireFromString("5.0")) {
		t.Errorf("line price changed with the ledger: %s", stored.Items[0].Price)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0").put("bookB", 1, "3.0"), 100)
	env.drain(t)

	_, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 2), line("bookB", 1)))
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if insufficient.BookID != "bookB" {
		t.Errorf("expected bookB to be short, got %s", insufficient.BookID)
	}

	// First line was compensated
	if env.ledger.quantity("bookA") != 10 || env.ledger.quantity("bookB") != 1 {
		t.Errorf("expected stock 10/1, got %d/%d", env.ledger.quantity("bookA"), env.ledger.quantity("bookB"))
	}
	if env.repo.count() != 0 {
		t.Errorf("expected no stored order, got %d", env.repo.count())
	}
}

func TestCreateOrder_UnknownBook(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)

	_, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 1), line("missing", 1)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	if env.ledger.quantity("bookA") != 10 {
		t.Errorf("expected stock 10, got %d", env.ledger.quantity("bookA"))
	}
}

func TestCreateOrder_UnknownClient(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)

	_, err := env.svc.CreateOrder(context.Background(), content("stranger", line("bookA", 1)))
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) || notFound.Entity != "client" {
		t.Errorf("expected client NotFoundError, got: %v", err)
	}
	if env.ledger.withdrawals != 0 {
		t.Errorf("expected no withdrawals, got %d", env.ledger.withdrawals)
	}
}

func TestCreateOrder_InvalidContent(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)

	tests := []struct {
		name  string
		order domain.Order
	}{
		{"no lines", content("client-1")},
		{"zero quantity", content("client-1", line("bookA", 0))},
		{"no client", content("", line("bookA", 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.CreateOrder(context.Background(), tt.order); !errors.Is(err, domain.ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got: %v", err)
			}
		})
	}
}

func TestCreateOrder_SaveFailureCompensates(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	env.repo.failSave = errBoom

	_, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 4)))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected save error, got: %v", err)
	}
	if env.ledger.quantity("bookA") != 10 {
		t.Errorf("expected stock 10, got %d", env.ledger.quantity("bookA"))
	}
}

func TestCreateOrder_CompensationFailureIsReported(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0").put("bookB", 1, "3.0"), 100)
	env.drain(t)
	env.ledger.failReturn = errBoom

	_, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 2), line("bookB", 1)))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected original cause, got: %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected compensation failure to be joined, got: %v", err)
	}
}

func TestCreateOrder_Concurrent(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	env := newTestEnv(t, newMockLedger().put("bookA", initialStock, "1.0"), 100)
	env.drain(t)

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 1)))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 19 {
		t.Errorf("expected 19 successes, got %d", successCount.Load())
	}
	if soldOutCount.Load() != 31 {
		t.Errorf("expected 31 sold out, got %d", soldOutCount.Load())
	}
	if env.ledger.quantity("bookA") != 1 {
		t.Errorf("expected stock 1, got %d", env.ledger.quantity("bookA"))
	}
	if env.repo.count() != 19 {
		t.Errorf("expected 19 stored orders, got %d", env.repo.count())
	}
}

func TestCreateOrderOnce_DuplicateRequest(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	// First request
	if _, err := env.svc.CreateOrderOnce(ctx, "req-1", content("client-1", line("bookA", 1))); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// Duplicate request with same requestID
	_, err := env.svc.CreateOrderOnce(ctx, "req-1", content("client-1", line("bookA", 1)))
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	// Stock should only be withdrawn once
	if env.ledger.quantity("bookA") != 9 {
		t.Errorf("expected stock 9, got %d", env.ledger.quantity("bookA"))
	}
	if !env.idem.keys[idempotencyKeyPrefix+"req-1"] {
		t.Error("expected request key to be held")
	}
}

func TestCreateOrderOnce_FailureReleasesKey(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 2, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	_, err := env.svc.CreateOrderOnce(ctx, "req-1", content("client-1", line("bookA", 5)))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	// Retry after restock goes through
	env.ledger.Return(ctx, "bookA", 10, decimal.NullDecimal{})
	if _, err := env.svc.CreateOrderOnce(ctx, "req-1", content("client-1", line("bookA", 5))); err != nil {
		t.Errorf("expected retry to succeed, got: %v", err)
	}
}

func TestCreateOrderOnce_StoreError(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	env.idem.err = errBoom

	_, err := env.svc.CreateOrderOnce(context.Background(), "req-1", content("client-1", line("bookA", 1)))
	if !errors.Is(err, errBoom) {
		t.Errorf("expected store error, got: %v", err)
	}
	if env.ledger.withdrawals != 0 {
		t.Error("expected no withdrawal when the key cannot be claimed")
	}
}

func TestUpdateOrder_ReplacesLines(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0").put("bookB", 5, "3.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, err := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 2), line("bookB", 1)))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := env.svc.UpdateOrder(ctx, created.ID, content("client-2", line("bookA", 5)))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if env.ledger.quantity("bookA") != 5 || env.ledger.quantity("bookB") != 5 {
		t.Errorf("expected stock 5/5, got %d/%d", env.ledger.quantity("bookA"), env.ledger.quantity("bookB"))
	}
	if len(updated.Items) != 1 || updated.Items[0].Quantity != 5 {
		t.Errorf("expected single line of 5, got %+v", updated.Items)
	}
	if updated.ID != created.ID || updated.ClientID != "client-2" {
		t.Errorf("unexpected identity: %s/%s", updated.ID, updated.ClientID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("expected creation time to be kept")
	}

	stored, _ := env.repo.GetOrder(ctx, created.ID)
	if len(stored.Items) != 1 {
		t.Errorf("expected 1 stored line, got %d", len(stored.Items))
	}
}

func TestUpdateOrder_FailureRestoresPreviousLines(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0").put("bookB", 3, "3.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 2)))

	_, err := env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("bookB", 3)))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	// No net change compared to before the update
	if env.ledger.quantity("bookA") != 8 || env.ledger.quantity("bookB") != 3 {
		t.Errorf("expected stock 8/3, got %d/%d", env.ledger.quantity("bookA"), env.ledger.quantity("bookB"))
	}
	stored, _ := env.repo.GetOrder(ctx, created.ID)
	if len(stored.Items) != 1 || stored.Items[0].BookID != "bookA" {
		t.Errorf("expected original line, got %+v", stored.Items)
	}
}

func TestUpdateOrder_FailureAfterRestockToZero(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, err := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 9)))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	env.ledger.Upsert(ctx, domain.StockItem{BookID: "bookA", Quantity: 0, Price: decimal.RequireFromString("5.0")})

	_, err = env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("missing", 1)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	// The order still holds its 9 units, so none may reappear in the ledger
	if env.ledger.quantity("bookA") != 0 {
		t.Errorf("expected stock 0, got %d", env.ledger.quantity("bookA"))
	}
	stored, _ := env.repo.GetOrder(ctx, created.ID)
	if len(stored.Items) != 1 || stored.Items[0].Quantity != 9 {
		t.Errorf("expected original line, got %+v", stored.Items)
	}
}

func TestUpdateOrder_PartialWithdrawIsReturned(t *testing.T) {
	ledger := newMockLedger().put("bookA", 10, "5.0").put("bookB", 3, "3.0").put("bookC", 10, "1.0")
	env := newTestEnv(t, ledger, 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 2)))

	_, err := env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("bookC", 4), line("bookB", 3)))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	if ledger.quantity("bookA") != 8 || ledger.quantity("bookB") != 3 || ledger.quantity("bookC") != 10 {
		t.Errorf("expected stock 8/3/10, got %d/%d/%d",
			ledger.quantity("bookA"), ledger.quantity("bookB"), ledger.quantity("bookC"))
	}
}

func TestUpdateOrder_SameBookUsesHeldUnits(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 8)))

	// 2 on hand plus 8 held allows 9, never all 10
	if _, err := env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("bookA", 10))); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
	if _, err := env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("bookA", 9))); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if env.ledger.quantity("bookA") != 1 {
		t.Errorf("expected stock 1, got %d", env.ledger.quantity("bookA"))
	}
}

func TestLineDeltas(t *testing.T) {
	prev := []domain.SoldItem{line("a", 2), line("b", 1)}
	next := []domain.SoldItem{line("c", 1), line("a", 1), line("a", 3)}

	got := lineDeltas(prev, next)
	want := map[string]int{"c": 1, "a": 2, "b": -1}
	if len(got) != len(want) {
		t.Fatalf("expected %d books, got %+v", len(want), got)
	}
	for _, d := range got {
		if want[d.BookID] != d.Quantity {
			t.Errorf("%s: expected %d, got %d", d.BookID, want[d.BookID], d.Quantity)
		}
	}
}

func TestUpdateOrder_RequiresNew(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 2)))
	for _, status := range []domain.OrderStatus{domain.OrderStatusApproved, domain.OrderStatusCancelled, domain.OrderStatusCompleted} {
		env.repo.setStatus(created.ID, status)
		_, err := env.svc.UpdateOrder(ctx, created.ID, content("client-1", line("bookA", 1)))
		if !errors.Is(err, domain.ErrCannotModifyOrder) {
			t.Errorf("%s: expected ErrCannotModifyOrder, got: %v", status, err)
		}
	}
	if env.ledger.quantity("bookA") != 8 {
		t.Errorf("expected stock 8, got %d", env.ledger.quantity("bookA"))
	}
}

func TestUpdateOrder_NotFound(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)

	_, err := env.svc.UpdateOrder(context.Background(), "missing", content("client-1", line("bookA", 1)))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestUpdateStatus_Transitions(t *testing.T) {
	allowed := map[domain.OrderStatus]map[domain.OrderStatus]bool{
		domain.OrderStatusNew: {
			domain.OrderStatusNew: true, domain.OrderStatusApproved: true,
			domain.OrderStatusCancelled: true, domain.OrderStatusCompleted: true,
		},
		domain.OrderStatusApproved: {
			domain.OrderStatusApproved: true, domain.OrderStatusCancelled: true, domain.OrderStatusCompleted: true,
		},
		domain.OrderStatusCancelled: {},
		domain.OrderStatusCompleted: {},
	}

	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
				env.drain(t)
				ctx := context.Background()

				created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 1)))
				env.repo.setStatus(created.ID, from)

				order, err := env.svc.UpdateStatus(ctx, created.ID, to)
				if allowed[from][to] {
					if err != nil {
						t.Fatalf("expected success, got: %v", err)
					}
					if order.Status != to {
						t.Errorf("expected %s, got %s", to, order.Status)
					}
					return
				}
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got: %v", err)
				}
				stored, _ := env.repo.GetOrder(ctx, created.ID)
				if stored.Status != from {
					t.Errorf("status changed to %s on rejection", stored.Status)
				}
			})
		}
	}
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 1)))
	if _, err := env.svc.UpdateStatus(ctx, created.ID, "SHIPPED"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestUpdateStatus_CancelKeepsStockWithdrawn(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.drain(t)
	ctx := context.Background()

	created, _ := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 3)))
	if _, err := env.svc.UpdateStatus(ctx, created.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// Status changes never touch the ledger
	if env.ledger.quantity("bookA") != 7 {
		t.Errorf("expected stock 7, got %d", env.ledger.quantity("bookA"))
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, newMockLedger(), 100)
	env.drain(t)

	if _, err := env.svc.UpdateStatus(context.Background(), "missing", domain.OrderStatusApproved); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestCreateOrder_EventQueued(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return fixed }

	created, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 2)))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	env.svc.UpdateStatus(context.Background(), created.ID, domain.OrderStatusApproved)

	// Read from queue
	first := <-env.svc.Events()
	second := <-env.svc.Events()

	if first.Type != domain.EventOrderCreated || first.OrderID != created.ID {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.Total != "10.00" || !first.OccurredAt.Equal(fixed) {
		t.Errorf("unexpected event payload: %+v", first)
	}
	if second.Type != domain.EventOrderStatusChanged || second.Status != domain.OrderStatusApproved {
		t.Errorf("unexpected second event: %+v", second)
	}

	env.svc.Close()
}

func TestCreateOrder_FullQueueDropsEvent(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 1)
	defer env.svc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 1)))
		env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 1)))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CreateOrder blocked on a full event queue")
	}
	if env.repo.count() != 2 {
		t.Errorf("expected 2 stored orders, got %d", env.repo.count())
	}
}

func TestCreateOrder_EventCarriesTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	defer env.svc.Close()
	if _, err := env.svc.CreateOrder(ctx, content("client-1", line("bookA", 1))); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	event := <-env.svc.Events()
	carried := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(event.Trace)))
	if carried.TraceID() != traceID {
		t.Errorf("expected trace %s, got %+v", traceID, event.Trace)
	}
}

func TestCreateOrder_AfterCloseDoesNotPanic(t *testing.T) {
	env := newTestEnv(t, newMockLedger().put("bookA", 10, "5.0"), 100)
	env.svc.Close()
	env.svc.Close()

	if _, err := env.svc.CreateOrder(context.Background(), content("client-1", line("bookA", 1))); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if env.ledger.quantity("bookA") != 9 {
		t.Errorf("expected stock 9, got %d", env.ledger.quantity("bookA"))
	}
}
