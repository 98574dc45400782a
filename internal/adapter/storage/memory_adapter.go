package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

// MemoryAdapter keeps ledger, orders and catalog in process memory. It has no
// transactions: WithinTx runs fn directly and callers rely on compensation.
type MemoryAdapter struct {
	mu      sync.Mutex
	stock   map[string]domain.StockItem
	orders  map[string]domain.Order
	books   map[string]struct{}
	clients map[string]struct{}
	now     func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		stock:   make(map[string]domain.StockItem),
		orders:  make(map[string]domain.Order),
		books:   make(map[string]struct{}),
		clients: make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) AddBook(isbn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[isbn] = struct{}{}
}

func (m *MemoryAdapter) AddClient(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = struct{}{}
}

func (m *MemoryAdapter) BookExists(ctx context.Context, bookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.books[bookID]
	return ok, nil
}

func (m *MemoryAdapter) ClientExists(ctx context.Context, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[clientID]
	return ok, nil
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryAdapter) Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	if !domain.CanWithdraw(item.Quantity, quantity) {
		return domain.StockItem{}, &domain.InsufficientStockError{BookID: bookID, Available: item.Quantity, Requested: quantity}
	}
	item.Quantity -= quantity
	m.touch(&item)
	m.stock[bookID] = item
	return item, nil
}

func (m *MemoryAdapter) Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error) {
	if quantity < 0 {
		return domain.StockItem{}, domain.ErrInvalidQuantity
	}
	price, err := priceOverride(price)
	if err != nil {
		return domain.StockItem{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	item.Quantity += quantity
	if price.Valid {
		item.Price = price.Decimal
	}
	m.touch(&item)
	m.stock[bookID] = item
	return item, nil
}

func (m *MemoryAdapter) CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error) {
	item, err := m.Get(ctx, bookID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return item.Price, nil
}

func (m *MemoryAdapter) Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	if !domain.ValidPrice(item.Price) {
		return domain.StockItem{}, domain.ErrInvalidPrice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	saved := domain.StockItem{
		BookID:    item.BookID,
		Quantity:  domain.ClampQuantity(item.Quantity),
		Price:     item.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := m.stock[item.BookID]; ok {
		saved.Version = prev.Version + 1
		saved.CreatedAt = prev.CreatedAt
	}
	m.stock[item.BookID] = saved
	return saved, nil
}

func (m *MemoryAdapter) Get(ctx context.Context, bookID string) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.stock[bookID]
	if !ok {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	return item, nil
}

func (m *MemoryAdapter) SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error) {
	m.mu.Lock()
	var items []domain.StockItem
	for _, item := range m.stock {
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	m.mu.Unlock()

	sortStock(items)
	return page(items, filter.Page, filter.Limit), nil
}

func (m *MemoryAdapter) Save(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, orderNotFound(id)
	}
	return order.Clone(), nil
}

func (m *MemoryAdapter) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return orderNotFound(id)
	}
	order.Status = status
	order.UpdatedAt = at
	m.orders[id] = order
	return nil
}

func (m *MemoryAdapter) SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	var orders []domain.Order
	for _, order := range m.orders {
		if filter.Matches(order) {
			orders = append(orders, order.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return page(orders, filter.Page, filter.Limit), nil
}

func (m *MemoryAdapter) touch(item *domain.StockItem) {
	item.Version++
	item.UpdatedAt = m.now()
}
