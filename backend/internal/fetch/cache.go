package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

const cacheKeyPrefix = "talentgraph:neighbors:"

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// CachingFetcher memoises successful neighbour lists in Redis so repeated
// runs do not hit the upstream again. Cache errors fall through to inner.
type CachingFetcher struct {
	inner  Fetcher
	rdb    goredis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingFetcher wraps inner with a Redis cache
func NewCachingFetcher(inner Fetcher, rdb goredis.Cmdable, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("fetch.cache"),
	}
}

// FetchNeighbors implements Fetcher
func (f *CachingFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	key := cacheKeyPrefix + person.ID

	raw, err := f.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var records []state.Record
		if jsonErr := json.Unmarshal(raw, &records); jsonErr == nil {
			metrics.FetchCacheHits.WithLabelValues("hit").Inc()
			return records, nil
		}
		f.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case err == goredis.Nil:
		metrics.FetchCacheHits.WithLabelValues("miss").Inc()
	default:
		metrics.FetchCacheHits.WithLabelValues("error").Inc()
		f.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	records, err := f.inner.FetchNeighbors(ctx, person)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	if err := f.rdb.Set(ctx, key, encoded, f.ttl).Err(); err != nil {
		f.logger.Warn("Cache store failed", zap.String("key", key), zap.Error(err))
	}
	return records, nil
}

// Invalidate drops the cached neighbours of a person
func (f *CachingFetcher) Invalidate(ctx context.Context, personID string) error {
	return f.rdb.Del(ctx, cacheKeyPrefix+personID).Err()
}
