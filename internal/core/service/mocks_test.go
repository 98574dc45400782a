package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

// Mock Ledger
type mockLedger struct {
	mu          sync.Mutex
	stock       map[string]domain.StockItem
	failReturn  error
	withdrawals int
}

func newMockLedger() *mockLedger {
	return &mockLedger{stock: make(map[string]domain.StockItem)}
}

func (m *mockLedger) put(bookID string, quantity int, price string) *mockLedger {
	m.stock[bookID] = domain.StockItem{BookID: bookID, Quantity: quantity, Price: decimal.RequireFromString(price)}
	return m
}

func (m *mockLedger) quantity(bookID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[bookID].Quantity
}

func (m *mockLedger) Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, &domain.NotFoundError{Entity: "stock entry", ID: bookID}
	}
	if !domain.CanWithdraw(item.Quantity, quantity) {
		return domain.StockItem{}, &domain.InsufficientStockError{BookID: bookID, Available: item.Quantity, Requested: quantity}
	}
	item.Quantity -= quantity
	m.stock[bookID] = item
	m.withdrawals++
	return item, nil
}

func (m *mockLedger) Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReturn != nil {
		return domain.StockItem{}, m.failReturn
	}
	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, &domain.NotFoundError{Entity: "stock entry", ID: bookID}
	}
	item.Quantity += quantity
	if price.Valid {
		item.Price = price.Decimal
	}
	m.stock[bookID] = item
	return item, nil
}

func (m *mockLedger) CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error) {
	item, err := m.Get(ctx, bookID)
	return item.Price, err
}

func (m *mockLedger) Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[item.BookID] = item
	return item, nil
}

func (m *mockLedger) Get(ctx context.Context, bookID string) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, &domain.NotFoundError{Entity: "stock entry", ID: bookID}
	}
	return item, nil
}

func (m *mockLedger) SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []domain.StockItem
	for _, item := range m.stock {
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	return items, nil
}

// Mock OrderRepository
type mockOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	failSave error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]domain.Order)}
}

func (m *mockOrderRepo) Save(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *mockOrderRepo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	return order.Clone(), nil
}

func (m *mockOrderRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return &domain.NotFoundError{Entity: "order", ID: id}
	}
	order.Status = status
	order.UpdatedAt = at
	m.orders[id] = order
	return nil
}

func (m *mockOrderRepo) SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []domain.Order
	for _, o := range m.orders {
		if filter.Matches(o) {
			orders = append(orders, o.Clone())
		}
	}
	return orders, nil
}

func (m *mockOrderRepo) setStatus(id string, status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.orders[id]
	order.Status = status
	m.orders[id] = order
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Mock Catalog, every book exists and only listed clients do
type mockCatalog struct {
	clients map[string]bool
	books   map[string]bool
}

func (m *mockCatalog) BookExists(ctx context.Context, bookID string) (bool, error) {
	if m.books == nil {
		return true, nil
	}
	return m.books[bookID], nil
}

func (m *mockCatalog) ClientExists(ctx context.Context, clientID string) (bool, error) {
	return m.clients[clientID], nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Mock IdempotencyStore
type mockIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{keys: make(map[string]bool)}
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

var errBoom = errors.New("boom")
