package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/port"
)

// WarehouseService is the only entry point allowed to change quantity or
// price of a book. It satisfies port.Ledger so the order service can use it
// in place of a storage adapter.
type WarehouseService struct {
	ledger  port.Ledger
	query   port.StockQuery
	catalog port.Catalog
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewWarehouseService(ledger port.Ledger, query port.StockQuery, catalog port.Catalog, logger *zap.Logger) *WarehouseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WarehouseService{
		ledger:  ledger,
		query:   query,
		catalog: catalog,
		logger:  logger,
		tracer:  otel.Tracer("bookstore/warehouse-service"),
	}
}

func (w *WarehouseService) Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error) {
	ctx, span := w.tracer.Start(ctx, "WarehouseService.Withdraw", trace.WithAttributes(
		attribute.String("book.id", bookID),
		attribute.Int("stock.requested", quantity),
	))
	defer span.End()

	if quantity < 1 {
		return domain.StockItem{}, traceErr(span, fmt.Errorf("withdraw %d: %w", quantity, domain.ErrInvalidQuantity))
	}
	item, err := w.ledger.Withdraw(ctx, bookID, quantity)
	if err != nil {
		w.logger.Debug("withdraw rejected", zap.String("book_id", bookID), zap.Int("quantity", quantity), zap.Error(err))
		return domain.StockItem{}, traceErr(span, err)
	}
	span.SetAttributes(attribute.Int("stock.remaining", item.Quantity))
	return item, nil
}

// Return puts quantity back on hand. A valid positive price replaces the
// current one; anything else leaves the price unchanged.
func (w *WarehouseService) Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error) {
	ctx, span := w.tracer.Start(ctx, "WarehouseService.Return", trace.WithAttributes(
		attribute.String("book.id", bookID),
		attribute.Int("stock.returned", quantity),
	))
	defer span.End()

	if quantity < 0 {
		return domain.StockItem{}, traceErr(span, fmt.Errorf("return %d: %w", quantity, domain.ErrInvalidQuantity))
	}
	if price.Valid && !price.Decimal.IsPositive() {
		price = decimal.NullDecimal{}
	}
	if price.Valid && !domain.ValidPrice(price.Decimal) {
		return domain.StockItem{}, traceErr(span, fmt.Errorf("price %s: %w", price.Decimal, domain.ErrInvalidPrice))
	}
	item, err := w.ledger.Return(ctx, bookID, quantity, price)
	if err != nil {
		return domain.StockItem{}, traceErr(span, err)
	}
	return item, nil
}

func (w *WarehouseService) CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error) {
	return w.ledger.CurrentPrice(ctx, bookID)
}

// Upsert registers a book in the warehouse or replaces its entry. The book
// must exist in the catalog.
func (w *WarehouseService) Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	ctx, span := w.tracer.Start(ctx, "WarehouseService.Upsert", trace.WithAttributes(attribute.String("book.id", item.BookID)))
	defer span.End()

	if item.BookID == "" {
		return domain.StockItem{}, traceErr(span, &domain.NotFoundError{Entity: "book", ID: item.BookID})
	}
	if !domain.ValidPrice(item.Price) {
		return domain.StockItem{}, traceErr(span, fmt.Errorf("price %s: %w", item.Price, domain.ErrInvalidPrice))
	}
	if w.catalog != nil {
		ok, err := w.catalog.BookExists(ctx, item.BookID)
		if err != nil {
			return domain.StockItem{}, traceErr(span, fmt.Errorf("book lookup: %w", err))
		}
		if !ok {
			return domain.StockItem{}, traceErr(span, &domain.NotFoundError{Entity: "book", ID: item.BookID})
		}
	}
	item.Quantity = domain.ClampQuantity(item.Quantity)

	saved, err := w.ledger.Upsert(ctx, item)
	if err != nil {
		return domain.StockItem{}, traceErr(span, err)
	}
	w.logger.Info("stock entry saved",
		zap.String("book_id", saved.BookID),
		zap.Int("quantity", saved.Quantity),
		zap.String("price", saved.Price.String()),
	)
	return saved, nil
}

func (w *WarehouseService) Get(ctx context.Context, bookID string) (domain.StockItem, error) {
	return w.ledger.Get(ctx, bookID)
}

func (w *WarehouseService) SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error) {
	return w.query.SearchStock(ctx, filter)
}
