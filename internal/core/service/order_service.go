package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const idempotencyKeyPrefix = "order:request:"

// OrderService sequences ledger and state machine calls so that orders and
// stock stay consistent.
type OrderService struct {
	ledger  port.Ledger
	orders  port.OrderRepository
	catalog port.Catalog
	tx      port.Transactor
	idem    port.IdempotencyStore

	eventQueue chan domain.OrderEvent
	queueMu    sync.RWMutex
	closed     bool
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

type Option func(s *OrderService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idem = store }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(ledger port.Ledger, orders port.OrderRepository, catalog port.Catalog, tx port.Transactor, queueSize int, opts ...Option) *OrderService {
	s := &OrderService{
		ledger:     ledger,
		orders:     orders,
		catalog:    catalog,
		tx:         tx,
		eventQueue: make(chan domain.OrderEvent, queueSize),
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("bookstore/order-service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder prices every line from the ledger, withdraws the stock and
// persists the order in status NEW. Caller supplied prices are ignored.
func (s *OrderService) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.checkContent(ctx, order); err != nil {
		return domain.Order{}, traceErr(span, err)
	}

	var created domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.place(ctx, s.newID(), s.now(), order)
		return err
	})
	if err != nil {
		s.logger.Warn("create order failed", zap.String("client_id", order.ClientID), zap.Error(err))
		return domain.Order{}, traceErr(span, err)
	}

	span.SetAttributes(attribute.String("order.id", created.ID), attribute.Int("order.lines", len(created.Items)))
	s.logger.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("client_id", created.ClientID),
		zap.String("total", created.Total().String()),
	)
	s.emit(ctx, domain.EventOrderCreated, created)
	return created, nil
}

// CreateOrderOnce is CreateOrder guarded by a request ID. A repeated request
// fails with ErrDuplicateRequest; a failed one frees the ID for a retry.
func (s *OrderService) CreateOrderOnce(ctx context.Context, requestID string, order domain.Order) (domain.Order, error) {
	if requestID == "" || s.idem == nil {
		return s.CreateOrder(ctx, order)
	}

	key := idempotencyKeyPrefix + requestID
	ok, err := s.idem.SetIdempotency(ctx, key)
	if err != nil {
		return domain.Order{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.Order{}, ErrDuplicateRequest
	}

	created, err := s.CreateOrder(ctx, order)
	if err != nil {
		if relErr := s.idem.ReleaseIdempotency(ctx, key); relErr != nil {
			s.logger.Error("release idempotency key failed", zap.String("request_id", requestID), zap.Error(relErr))
		}
		return domain.Order{}, err
	}
	return created, nil
}

// UpdateOrder replaces the client and lines of a NEW order. The ledger sees
// only the per-book difference between the old and new lines, which gives the
// same acceptance as returning everything and withdrawing the new content.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID string, content domain.Order) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if err := content.Validate(); err != nil {
		return domain.Order{}, traceErr(span, err)
	}

	var updated domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := domain.ValidateContentEdit(orderID, current.Status); err != nil {
			return err
		}
		if err := s.checkContent(ctx, content); err != nil {
			return err
		}

		items, err := s.priceLines(ctx, orderID, content.Items)
		if err != nil {
			return err
		}
		changes := lineDeltas(current.Items, items)

		// Growth only. Held units stay withdrawn until Save succeeds.
		var taken []domain.SoldItem
		for _, c := range changes {
			if c.Quantity <= 0 {
				continue
			}
			if _, err := s.ledger.Withdraw(ctx, c.BookID, c.Quantity); err != nil {
				return s.compensate(ctx, orderID, taken, err)
			}
			taken = append(taken, c)
		}

		updated = domain.Order{
			ID:        orderID,
			ClientID:  content.ClientID,
			Status:    current.Status,
			CreatedAt: current.CreatedAt,
			UpdatedAt: s.now(),
			Items:     items,
		}
		if err := s.orders.Save(ctx, updated); err != nil {
			return s.compensate(ctx, orderID, taken, fmt.Errorf("save order: %w", err))
		}

		for _, c := range changes {
			if c.Quantity >= 0 {
				continue
			}
			if _, err := s.ledger.Return(ctx, c.BookID, -c.Quantity, decimal.NullDecimal{}); err != nil {
				s.logger.Error("CRITICAL release of dropped order lines failed",
					zap.String("order_id", orderID), zap.String("book_id", c.BookID), zap.Error(err))
				return fmt.Errorf("return %d of %s: %w", -c.Quantity, c.BookID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("update order failed", zap.String("order_id", orderID), zap.Error(err))
		return domain.Order{}, traceErr(span, err)
	}

	s.logger.Info("order updated", zap.String("order_id", orderID), zap.Int("lines", len(updated.Items)))
	s.emit(ctx, domain.EventOrderUpdated, updated)
	return updated, nil
}

// UpdateStatus moves an order to next. Stock is not touched, so cancelling
// through here keeps the withdrawn books out of the warehouse.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.requested", string(next)),
	))
	defer span.End()

	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, traceErr(span, err)
	}
	if err := domain.ValidateStatusChange(orderID, current.Status, next); err != nil {
		return domain.Order{}, traceErr(span, err)
	}

	now := s.now()
	if err := s.orders.UpdateStatus(ctx, orderID, next, now); err != nil {
		return domain.Order{}, traceErr(span, err)
	}
	current.Status = next
	current.UpdatedAt = now

	s.logger.Info("order status changed", zap.String("order_id", orderID), zap.String("status", string(next)))
	s.emit(ctx, domain.EventOrderStatusChanged, current)
	return current, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return s.orders.SearchOrders(ctx, filter)
}

// Events exposes committed order changes for the publishing workers.
func (s *OrderService) Events() <-chan domain.OrderEvent {
	return s.eventQueue
}

// Close ends the event stream. Changes committed afterwards are not queued.
func (s *OrderService) Close() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.eventQueue)
	}
}

func (s *OrderService) checkContent(ctx context.Context, order domain.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if s.catalog == nil {
		return nil
	}
	ok, err := s.catalog.ClientExists(ctx, order.ClientID)
	if err != nil {
		return fmt.Errorf("client lookup: %w", err)
	}
	if !ok {
		return &domain.NotFoundError{Entity: "client", ID: order.ClientID}
	}
	return nil
}

// place prices, withdraws and saves content as order id. On failure every
// withdrawal it made has been returned.
func (s *OrderService) place(ctx context.Context, id string, createdAt time.Time, content domain.Order) (domain.Order, error) {
	items, err := s.priceLines(ctx, id, content.Items)
	if err != nil {
		return domain.Order{}, err
	}

	for i, item := range items {
		if _, err := s.ledger.Withdraw(ctx, item.BookID, item.Quantity); err != nil {
			return domain.Order{}, s.compensate(ctx, id, items[:i], err)
		}
	}

	order := domain.Order{
		ID:        id,
		ClientID:  content.ClientID,
		Status:    domain.OrderStatusNew,
		CreatedAt: createdAt,
		UpdatedAt: s.now(),
		Items:     items,
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return domain.Order{}, s.compensate(ctx, id, items, fmt.Errorf("save order: %w", err))
	}
	return order, nil
}

func (s *OrderService) compensate(ctx context.Context, orderID string, withdrawn []domain.SoldItem, cause error) error {
	if len(withdrawn) == 0 {
		return cause
	}
	if _, err := s.returnLines(ctx, withdrawn); err != nil {
		s.logger.Error("CRITICAL compensation failed",
			zap.String("order_id", orderID), zap.NamedError("cause", cause), zap.Error(err))
		return errors.Join(cause, err)
	}
	s.logger.Info("compensated partial withdrawal", zap.String("order_id", orderID), zap.Int("lines", len(withdrawn)))
	return cause
}

// returnLines gives every line back to the ledger and reports how many were
// returned before the first failure.
func (s *OrderService) returnLines(ctx context.Context, items []domain.SoldItem) (int, error) {
	for i, item := range items {
		if _, err := s.ledger.Return(ctx, item.BookID, item.Quantity, decimal.NullDecimal{}); err != nil {
			return i, fmt.Errorf("return %d of %s: %w", item.Quantity, item.BookID, err)
		}
	}
	return len(items), nil
}

func (s *OrderService) priceLines(ctx context.Context, orderID string, lines []domain.SoldItem) ([]domain.SoldItem, error) {
	items := make([]domain.SoldItem, 0, len(lines))
	for _, line := range lines {
		price, err := s.ledger.CurrentPrice(ctx, line.BookID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.SoldItem{
			ID:       s.newID(),
			OrderID:  orderID,
			BookID:   line.BookID,
			Quantity: line.Quantity,
			Price:    price,
		})
	}
	return items, nil
}

// lineDeltas sums next minus prev per book. Books keep first-seen order,
// next before prev.
func lineDeltas(prev, next []domain.SoldItem) []domain.SoldItem {
	index := make(map[string]int)
	var out []domain.SoldItem
	add := func(bookID string, quantity int) {
		i, ok := index[bookID]
		if !ok {
			i = len(out)
			index[bookID] = i
			out = append(out, domain.SoldItem{BookID: bookID})
		}
		out[i].Quantity += quantity
	}
	for _, item := range next {
		add(item.BookID, item.Quantity)
	}
	for _, item := range prev {
		add(item.BookID, -item.Quantity)
	}
	return out
}

func (s *OrderService) emit(ctx context.Context, t domain.OrderEventType, order domain.Order) {
	event := domain.NewOrderEvent(t, order, s.now())
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		event.Trace = carrier
	}

	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		s.logger.Warn("event queue closed, dropping event",
			zap.String("order_id", order.ID), zap.String("type", string(t)))
		return
	}
	select {
	case s.eventQueue <- event:
	default:
		s.logger.Warn("event queue full, dropping event",
			zap.String("order_id", order.ID), zap.String("type", string(t)))
	}
}

func traceErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
