package storage

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

func stockNotFound(bookID string) error {
	return &domain.NotFoundError{Entity: "stock entry", ID: bookID}
}

func orderNotFound(id string) error {
	return &domain.NotFoundError{Entity: "order", ID: id}
}

// priceOverride drops non-positive overrides and rejects sub-cent ones.
func priceOverride(price decimal.NullDecimal) (decimal.NullDecimal, error) {
	if !price.Valid || !price.Decimal.IsPositive() {
		return decimal.NullDecimal{}, nil
	}
	if !domain.ValidPrice(price.Decimal) {
		return decimal.NullDecimal{}, fmt.Errorf("price %s: %w", price.Decimal, domain.ErrInvalidPrice)
	}
	return price, nil
}

func page[T any](items []T, pageNum, limit int) []T {
	offset, size := domain.Window(pageNum, limit)
	if offset >= len(items) {
		return nil
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortStock(items []domain.StockItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].BookID < items[j].BookID })
}
