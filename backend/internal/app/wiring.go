// Package app assembles the engine's collaborators from configuration. It
// is shared by the server and the CLI.
package app

import (
	"context"
	"io"

	"go.uber.org/zap"

	"talent-graph/backend/internal/fetch"
	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/internal/storage/kv"
	"talent-graph/backend/pkg/config"
	apperrors "talent-graph/backend/pkg/errors"
)

// Snapshots is a snapshot store that owns resources
type Snapshots interface {
	Save(ctx context.Context, key string, snap *state.Snapshot) error
	Load(ctx context.Context, key string) (*state.Snapshot, error)
	Delete(ctx context.Context, key string) error
	io.Closer
}

// OpenSnapshots opens the configured snapshot backend
func OpenSnapshots(ctx context.Context, cfg *config.Config) (Snapshots, error) {
	switch cfg.SnapshotBackend {
	case "neo4j":
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		return graph.NewRepository(driver), nil
	case "badger":
		store, err := kv.Open(kv.DefaultConfig(cfg.BadgerPath))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, apperrors.NewConfigInvalid("SNAPSHOT_BACKEND", "must be badger or neo4j")
}

// BuildFetcher returns the fetch collaborator: JSON fixtures, then HTML
// exports, behind a circuit breaker and, when REDIS_ADDR is set, a cache.
// The returned cleanup closes the redis client.
func BuildFetcher(ctx context.Context, cfg *config.Config, log *zap.Logger) (fetch.Fetcher, func(), error) {
	var f fetch.Fetcher = fetch.Chain(
		fetch.NewDirFetcher(cfg.FixtureDir),
		fetch.NewHTMLExportFetcher(cfg.FixtureDir, "html_export"),
	)
	f = fetch.NewBreakerFetcher(f, fetch.DefaultBreakerConfig("fetch_neighbors"))

	if cfg.RedisAddr == "" {
		return f, func() {}, nil
	}
	rdb, err := fetch.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Fetch cache enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Duration("ttl", cfg.RedisCacheTTL))
	return fetch.NewCachingFetcher(f, rdb, cfg.RedisCacheTTL), func() { _ = rdb.Close() }, nil
}
