package port

import (
	"context"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes a key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}
