// Package cache serves neighbour lists for single words without reparsing
// the whole similarity file on every lookup. Lookups go through an
// in-process LRU, then Redis when configured, then the loader; concurrent
// misses for one word share a single load.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/redis"
)

const keyPrefix = "similar:"

// Remote is the shared tier. *pkgredis.Client implements it.
type Remote interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) (int, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Loader finds the neighbours of word in the source of truth.
type Loader func(ctx context.Context, word string) (similarity.Neighbors, bool, error)

// Cache is safe for concurrent use.
type Cache struct {
	local   *lru.Cache[string, similarity.Neighbors]
	remote  Remote
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a Cache holding up to size words in memory. remote may be nil.
func New(size int, remote Remote, ttl time.Duration, m *metrics.Metrics) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[string, similarity.Neighbors](size)
	if err != nil {
		return nil, fmt.Errorf("creating neighbour cache: %w", err)
	}
	return &Cache{
		local:   local,
		remote:  remote,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "neighbor-cache"),
	}, nil
}

// Lookup returns the neighbours of word. found is false when neither tier
// nor the loader knows the word.
func (c *Cache) Lookup(ctx context.Context, word string, load Loader) (similarity.Neighbors, bool, error) {
	key := buildKey(word)
	if ns, ok := c.local.Get(key); ok {
		c.hit("memory")
		return ns, true, nil
	}
	if ns, ok := c.getRemote(ctx, key); ok {
		c.local.Add(key, ns)
		c.hit("redis")
		return ns, true, nil
	}

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
	type loaded struct {
		ns    similarity.Neighbors
		found bool
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		ns, found, err := load(ctx, word)
		if err != nil || !found {
			return loaded{}, err
		}
		c.local.Add(key, ns)
		c.setRemote(ctx, key, ns)
		return loaded{ns: ns, found: true}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading neighbours of %q: %w", word, err)
	}
	l := val.(loaded)
	return l.ns, l.found, nil
}

// Publish replaces every word's entry in Redis with result and clears the
// in-process tier. Without Redis it only clears the local tier.
func (c *Cache) Publish(ctx context.Context, result *similarity.Result) (int, error) {
	c.local.Purge()
	if c.remote == nil {
		return 0, nil
	}
	deleted, err := c.remote.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("clearing published neighbours: %w", err)
	}
	values := make(map[string][]byte, result.Len())
	for _, w := range result.Words() {
		ns, _ := result.Lookup(w)
		data, err := json.Marshal(ns)
		if err != nil {
			return 0, fmt.Errorf("encoding neighbours of %q: %w", w, err)
		}
		values[buildKey(w)] = data
	}
	written, err := c.remote.SetMany(ctx, values, c.ttl)
	if err != nil {
		return written, fmt.Errorf("publishing neighbours: %w", err)
	}
	c.logger.Info("neighbours published", "words", written, "replaced", deleted)
	return written, nil
}

// Stats returns hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) hit(tier string) {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *Cache) getRemote(ctx context.Context, key string) (similarity.Neighbors, bool) {
	if c.remote == nil {
		return nil, false
	}
	data, err := c.remote.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var ns similarity.Neighbors
	if err := json.Unmarshal([]byte(data), &ns); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return ns, true
}

func (c *Cache) setRemote(ctx context.Context, key string, ns similarity.Neighbors) {
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(ns)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.remote.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func buildKey(word string) string {
	hash := sha256.Sum256([]byte(vocab.Key(word)))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
