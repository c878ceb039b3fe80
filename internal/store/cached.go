package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/models"
	"go.uber.org/zap"
)

// Cache keys.
const (
	keyEntries     = "crowdqueue:entries"
	keyVotedPrefix = "crowdqueue:voted:"
)

// DefaultCacheTTL bounds how stale a cached read may be when an
// invalidation is lost.
const DefaultCacheTTL = 2 * time.Second

// CachedStore wraps a Store with a Redis caching layer.
// Entry listings and per-participant vote sets are served from cache;
// every write invalidates what it touches. Cache failures fall through
// to the inner store.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, ttl time.Duration, log *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{inner: inner, cache: c, ttl: ttl, log: log.Named("cache")}
}

// Persisted returns the wrapped store, bypassing the cache.
func (c *CachedStore) Persisted() Store {
	return c.inner
}

// --- cached reads ---

func (c *CachedStore) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	if v, err := cache.Get[[]models.QueueEntry](ctx, c.cache, keyEntries); err == nil {
		return v, nil
	}
	entries, err := c.inner.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, keyEntries, entries)
	return entries, nil
}

func (c *CachedStore) VotedEntries(ctx context.Context, participantID string) (map[string]bool, error) {
	key := keyVotedPrefix + participantID
	if v, err := cache.Get[map[string]bool](ctx, c.cache, key); err == nil {
		return v, nil
	}
	voted, err := c.inner.VotedEntries(ctx, participantID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, voted)
	return voted, nil
}

// --- writes with invalidation ---

func (c *CachedStore) CreateEntry(ctx context.Context, e *models.QueueEntry) error {
	if err := c.inner.CreateEntry(ctx, e); err != nil {
		return err
	}
	c.invalidate(ctx, keyEntries)
	return nil
}

func (c *CachedStore) UpdateEntryMetadata(ctx context.Context, id, title, thumbnail string) error {
	if err := c.inner.UpdateEntryMetadata(ctx, id, title, thumbnail); err != nil {
		return err
	}
	c.invalidate(ctx, keyEntries)
	return nil
}

func (c *CachedStore) DeleteEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := c.inner.DeleteEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	c.invalidateDeleted(ctx)
	return e, nil
}

func (c *CachedStore) RetireActive(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := c.inner.RetireActive(ctx, id)
	if err != nil {
		return nil, err
	}
	c.invalidateDeleted(ctx)
	return e, nil
}

func (c *CachedStore) ActivateEntry(ctx context.Context, id string) error {
	err := c.inner.ActivateEntry(ctx, id)
	// A lost race still means the cached listing is out of date.
	if err == nil || errors.Is(err, ErrActiveExists) {
		c.invalidate(ctx, keyEntries)
	}
	return err
}

func (c *CachedStore) AddVote(ctx context.Context, v models.VoteRecord) error {
	if err := c.inner.AddVote(ctx, v); err != nil {
		return err
	}
	c.invalidate(ctx, keyEntries, keyVotedPrefix+v.ParticipantID)
	return nil
}

func (c *CachedStore) RemoveVote(ctx context.Context, entryID, participantID string) error {
	if err := c.inner.RemoveVote(ctx, entryID, participantID); err != nil {
		return err
	}
	c.invalidate(ctx, keyEntries, keyVotedPrefix+participantID)
	return nil
}

// --- passthrough ---

func (c *CachedStore) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	return c.inner.GetEntry(ctx, id)
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		return err
	}
	return c.cache.Ping(ctx)
}

func (c *CachedStore) Close() {
	c.inner.Close()
}

// --- helpers ---

func (c *CachedStore) set(ctx context.Context, key string, v any) {
	if err := cache.Set(ctx, c.cache, key, v, c.ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("cache del failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// invalidateDeleted drops the listing and every vote set, since the
// cascade removed votes of participants we cannot enumerate cheaply.
func (c *CachedStore) invalidateDeleted(ctx context.Context) {
	c.invalidate(ctx, keyEntries)
	if err := cache.DelPattern(ctx, c.cache, keyVotedPrefix+"*"); err != nil {
		c.log.Warn("cache del pattern failed", zap.String("pattern", keyVotedPrefix+"*"), zap.Error(err))
	}
}
