/**
 * @description
 * This file wraps the customer index with a redis read-through cache. Webhook
 * deliveries resolve the provider customer id on every event; the index row is
 * immutable in practice, so a short-TTL cache removes the database read from
 * the hot path. The wrapper degrades to plain database reads when redis is
 * unavailable.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */
package store

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const customerCacheTTL = 15 * time.Minute

// CustomerResolver is the index lookup being cached.
type CustomerResolver interface {
	FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error)
}

// CachedCustomerIndex is a read-through cache over the customer index.
type CachedCustomerIndex struct {
	inner  CustomerResolver
	client *redis.Client
	prefix string
}

// NewCachedCustomerIndex wraps a resolver with a redis cache. client may be
// nil; lookups then go straight to the inner resolver.
func NewCachedCustomerIndex(inner CustomerResolver, client *redis.Client, prefix string) *CachedCustomerIndex {
	if prefix == "" {
		prefix = "access:customer"
	}
	return &CachedCustomerIndex{inner: inner, client: client, prefix: prefix}
}

// FindUserIDByCustomerID resolves via cache first, falling back to the index.
// Cache failures are logged and ignored; the index remains authoritative.
func (c *CachedCustomerIndex) FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	key := c.prefix + ":" + customerID

	if c.client != nil {
		cached, err := c.client.Get(ctx, key).Result()
		if err == nil && cached != "" {
			return cached, nil
		}
		if err != nil && err != redis.Nil {
			log.Printf("level=warn component=customer_cache msg=\"cache read failed\" customer_id=%s err=%v", customerID, err)
		}
	}

	userID, err := c.inner.FindUserIDByCustomerID(ctx, customerID)
	if err != nil {
		return "", err
	}

	if c.client != nil {
		if err := c.client.Set(ctx, key, userID, customerCacheTTL).Err(); err != nil {
			log.Printf("level=warn component=customer_cache msg=\"cache write failed\" customer_id=%s err=%v", customerID, err)
		}
	}
	return userID, nil
}

// CustomerCachedRepository is the purchase repository with its customer-index
// lookup routed through the cache.
type CustomerCachedRepository struct {
	*PostgresRepository
	index *CachedCustomerIndex
}

// NewCustomerCachedRepository overlays the cached customer index on a
// repository.
func NewCustomerCachedRepository(repo *PostgresRepository, index *CachedCustomerIndex) *CustomerCachedRepository {
	return &CustomerCachedRepository{PostgresRepository: repo, index: index}
}

func (r *CustomerCachedRepository) FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	return r.index.FindUserIDByCustomerID(ctx, customerID)
}
