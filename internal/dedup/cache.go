package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mailmaestro/internal/logger"
)

const cacheKeyPrefix = "dedup:"

// CachedRepository fronts a Repository with a Redis look-aside cache. Cache
// failures degrade to the underlying store; the cache never turns a seen
// message into an unseen one.
type CachedRepository struct {
	repo   Repository
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedRepository {
	return &CachedRepository{
		repo:   repo,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (c *CachedRepository) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKeyPrefix+fingerprint).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		c.logger.Warnw("dedup cache lookup failed, falling through", "error", err)
	}

	seen, err := c.repo.Seen(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if seen {
		c.fill(ctx, fingerprint)
	}
	return seen, nil
}

func (c *CachedRepository) Mark(ctx context.Context, fingerprint string, at time.Time) error {
	if err := c.repo.Mark(ctx, fingerprint, at); err != nil {
		return err
	}
	c.fill(ctx, fingerprint)
	return nil
}

func (c *CachedRepository) fill(ctx context.Context, fingerprint string) {
	if err := c.client.Set(ctx, cacheKeyPrefix+fingerprint, 1, c.ttl).Err(); err != nil {
		c.logger.Warnw("dedup cache fill failed", "error", err)
	}
}
