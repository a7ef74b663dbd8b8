package port

import (
	"context"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency claims key, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so a failed call can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetStock publishes a committed quantity for fast reads. A level whose
	// version is not newer than the cached one is dropped, applied is false.
	SetStock(ctx context.Context, level domain.StockLevel) (applied bool, err error)

	// GetStock returns the last published quantity, ok is false on a miss
	GetStock(ctx context.Context, itemID int64) (quantity int, ok bool, err error)
}
