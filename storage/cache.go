package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// boardsRegion namespaces every cached board view. Eviction is always
// whole-region: any committed mutation invalidates all board reads.
const boardsRegion = "boards"

// DefaultBoardTTL bounds staleness when an eviction is lost to a transient
// cache outage.
const DefaultBoardTTL = 30 * time.Minute

// BoardLoader materializes board views from the store of record on a cache
// miss.
type BoardLoader interface {
	LoadBoards(ctx context.Context) ([]domain.BoardView, error)
	LoadBoard(ctx context.Context, id string) (domain.BoardView, error)
}

// BoardCache serves repeated board reads from Redis so the list/card tree is
// not re-materialized on every request. Redis being down never fails a read;
// the loader is the fallback.
type BoardCache struct {
	loader BoardLoader
	redis  *redis.Client
	ttl    time.Duration
}

// NewBoardCache creates a read-through cache over the provided loader.
func NewBoardCache(loader BoardLoader, client *redis.Client, ttl time.Duration) *BoardCache {
	if loader == nil {
		panic("storage.NewBoardCache: loader is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{loader: loader, redis: client, ttl: ttl}
}

// FetchBoards returns the full board listing, cached under boards:all.
func (c *BoardCache) FetchBoards(ctx context.Context) ([]domain.BoardView, error) {
	var cached []domain.BoardView
	if c.load(ctx, boardKey("all"), &cached) {
		return cached, nil
	}

	views, err := c.loader.LoadBoards(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardKey("all"), views)
	return views, nil
}

// FetchBoard returns one board's view, cached under boards:<id>.
func (c *BoardCache) FetchBoard(ctx context.Context, id string) (domain.BoardView, error) {
	var cached domain.BoardView
	if c.load(ctx, boardKey(id), &cached) {
		return cached, nil
	}

	view, err := c.loader.LoadBoard(ctx, id)
	if err != nil {
		return domain.BoardView{}, err
	}
	c.store(ctx, boardKey(id), view)
	return view, nil
}

// EvictAll drops every key in the boards region.
func (c *BoardCache) EvictAll(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, boardsRegion+":*", 0).Iterator()
	keys := make([]string, 0, 8)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *BoardCache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the loader without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *BoardCache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func boardKey(suffix string) string {
	return boardsRegion + ":" + suffix
}
