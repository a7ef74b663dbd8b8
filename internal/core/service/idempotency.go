package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// Once runs fn at most once per (op, actor, key). The key is claimed in the
// cache before fn runs and released again when fn fails, so a caller can retry
// after a validation or concurrency error. Without a cache or a key fn always
// runs.
func (c *Core) Once(ctx context.Context, op string, actor domain.Actor, key string, fn func(ctx context.Context) error) error {
	key = strings.TrimSpace(key)
	if c.cache == nil || key == "" {
		return fn(ctx)
	}
	idempotencyKey := fmt.Sprintf("%s:%s:%s", op, actor.SubjectID, key)

	ok, err := c.cache.SetIdempotency(ctx, idempotencyKey)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: key %q already used", domain.ErrDuplicateRequest, key)
	}

	if err := fn(ctx); err != nil {
		// context.WithoutCancel: the release must still reach the cache when
		// ctx is what made fn fail
		if rerr := c.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKey); rerr != nil {
			c.log.WithFields(logrus.Fields{"op": op, "key": key}).WithError(rerr).Warn("idempotency release failed")
		}
		return err
	}
	return nil
}
