package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"services-market-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// ListingCache caches single listings by id. A miss returns a nil listing.
//
// Every id carries a generation that DeleteListing advances. GetListing
// reports the generation it saw and SetListing drops the write when the id
// was invalidated since, so a copy read before an update never lands after it.
type ListingCache interface {
	GetListing(ctx context.Context, id string) (*models.Listing, uint64, error)
	SetListing(ctx context.Context, listing *models.Listing, gen uint64) error
	DeleteListing(ctx context.Context, id string) error
	Close() error
}

// generationTTL outlives any read-then-fill window by far
const generationTTL = 24 * time.Hour

// RedisListingCache stores listings as JSON under listing:<id> and the
// generation under listing:<id>:gen
type RedisListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisListingCache connects to Redis and checks the connection
func NewRedisListingCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisListingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisListingCache{client: client, ttl: ttl}, nil
}

func key(id string) string    { return "listing:" + id }
func genKey(id string) string { return "listing:" + id + ":gen" }

var errStaleFill = errors.New("listing invalidated since read")

func (c *RedisListingCache) GetListing(ctx context.Context, id string) (*models.Listing, uint64, error) {
	values, err := c.client.MGet(ctx, key(id), genKey(id)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read cached listing: %w", err)
	}
	gen, err := parseGeneration(values[1])
	if err != nil {
		return nil, 0, err
	}
	data, ok := values[0].(string)
	if !ok {
		return nil, gen, nil
	}
	var listing models.Listing
	if err := json.Unmarshal([]byte(data), &listing); err != nil {
		return nil, gen, fmt.Errorf("failed to decode cached listing: %w", err)
	}
	return &listing, gen, nil
}

func parseGeneration(v interface{}) (uint64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	gen, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode listing generation: %w", err)
	}
	return gen, nil
}

func (c *RedisListingCache) SetListing(ctx context.Context, listing *models.Listing, gen uint64) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}
	ttl := entryTTL(listing, c.ttl, time.Now())

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey(listing.ID)).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ttl <= 0 {
				pipe.Del(ctx, key(listing.ID))
				return nil
			}
			pipe.Set(ctx, key(listing.ID), data, ttl)
			return nil
		})
		return err
	}, genKey(listing.ID))
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cache listing: %w", err)
	}
	return nil
}

// entryTTL caps ttl so a boosted listing never outlives its boost in cache
func entryTTL(listing *models.Listing, ttl time.Duration, now time.Time) time.Duration {
	if listing.IsTop && listing.TopExpiresAt != nil {
		if until := listing.TopExpiresAt.Sub(now); until < ttl {
			return until
		}
	}
	return ttl
}

func (c *RedisListingCache) DeleteListing(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(id))
		pipe.Expire(ctx, genKey(id), generationTTL)
		pipe.Del(ctx, key(id))
		return nil
	})
	return err
}

func (c *RedisListingCache) Close() error { return c.client.Close() }

// Noop is used when no Redis address is configured
type Noop struct{}

func (Noop) GetListing(ctx context.Context, id string) (*models.Listing, uint64, error) {
	return nil, 0, nil
}
func (Noop) SetListing(ctx context.Context, listing *models.Listing, gen uint64) error { return nil }
func (Noop) DeleteListing(ctx context.Context, id string) error                        { return nil }
func (Noop) Close() error                                                              { return nil }
