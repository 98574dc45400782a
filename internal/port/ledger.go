package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

// Ledger owns quantity-on-hand and current price per book. Implementations
// must make each mutation a single atomic read-modify-write per book.
type Ledger interface {
	// Withdraw decrements stock, failing with InsufficientStockError unless
	// domain.CanWithdraw holds for the current quantity
	Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error)

	// Return increments stock and overwrites the price when a positive override is given
	Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error)

	// CurrentPrice returns the price new orders are charged
	CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error)

	// Upsert creates or fully replaces an entry, clamping negative quantity to zero
	Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error)

	// Get retrieves an entry by book ID
	Get(ctx context.Context, bookID string) (domain.StockItem, error)
}

type StockQuery interface {
	SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error)
}
