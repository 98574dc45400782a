package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockReserve is the number of units that must remain on hand after a
// withdrawal. With 1 a withdrawal needs current > requested; set it to 0 to
// allow draining the last unit.
const StockReserve = 1

// PriceScale is the number of decimal places a price is stored with.
const PriceScale = 2

// ValidPrice reports whether p is positive and fits in PriceScale places.
func ValidPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.Equal(p.Round(PriceScale))
}

// StockItem is the ledger entry of a single book.
type StockItem struct {
	BookID    string
	Quantity  int
	Price     decimal.Decimal
	Version   int64 // bumped on every mutation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanWithdraw reports whether requested units may be taken from onHand.
func CanWithdraw(onHand, requested int) bool {
	return onHand-requested >= StockReserve
}

// ClampQuantity never lets a caller persist a negative quantity.
func ClampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}

// StockFilter selects ledger entries. Zero values disable a criterion.
type StockFilter struct {
	BookID      string
	PriceFrom   decimal.NullDecimal
	PriceTo     decimal.NullDecimal
	MinQuantity int
	Page        int
	Limit       int
}

func (f StockFilter) Matches(item StockItem) bool {
	if f.BookID != "" && item.BookID != f.BookID {
		return false
	}
	if f.PriceFrom.Valid && item.Price.LessThan(f.PriceFrom.Decimal) {
		return false
	}
	if f.PriceTo.Valid && item.Price.GreaterThan(f.PriceTo.Decimal) {
		return false
	}
	return item.Quantity >= f.MinQuantity
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 500
	// MaxPage bounds the page number so page*limit stays far from overflow.
	MaxPage = 1_000_000
)

// Window normalizes paging arguments into an offset and a limit.
func Window(page, limit int) (offset, size int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page * limit, limit
}
