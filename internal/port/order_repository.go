package port

import (
	"context"
	"time"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

type OrderRepository interface {
	// Save inserts the order or replaces an existing one together with all of its lines
	Save(ctx context.Context, order domain.Order) error

	// GetOrder retrieves an order with its lines, NotFoundError if absent
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// UpdateStatus writes the status column only
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error

	SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// Transactor runs fn inside a single storage transaction when the backend
// supports one. The context passed to fn carries the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Catalog answers existence questions about records owned by other services.
type Catalog interface {
	BookExists(ctx context.Context, bookID string) (bool, error)
	ClientExists(ctx context.Context, clientID string) (bool, error)
}
