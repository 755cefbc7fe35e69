// Package kv stores graph snapshots in an embedded BadgerDB.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

const keyPrefix = "snapshot/"

// Config holds configuration for the snapshot database
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns durable settings for a database at path
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapBadgerLogger adapts zap to badger's Logger interface
type zapBadgerLogger struct {
	log *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}
func (l zapBadgerLogger) Infof(format string, args ...interface{})  { l.log.Debugf(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }

// SnapshotStore persists JSON encoded snapshots keyed by run key
type SnapshotStore struct {
	db     *badger.DB
	logger *zap.Logger

	stopGC context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens or creates the database described by cfg
func Open(cfg Config) (*SnapshotStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, apperrors.NewConfigInvalid("BADGER_PATH", "path is required for persistent database")
	}

	log := logger.Named("badger")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, apperrors.NewStoreFailed("badger_open", fmt.Errorf("create database directory %s: %w", cfg.Path, err))
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{log: log.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.NewStoreFailed("badger_open", err)
	}

	s := &SnapshotStore{db: db, logger: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.wg.Add(1)
		go s.runGC(ctx, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *SnapshotStore) runGC(ctx context.Context, interval time.Duration, ratio float64) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Run until there is nothing left to rewrite
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}

// Close stops garbage collection and closes the database
func (s *SnapshotStore) Close() error {
	if s.stopGC != nil {
		s.stopGC()
		s.wg.Wait()
	}
	return s.db.Close()
}

// Save writes snap under key, replacing any previous snapshot
func (s *SnapshotStore) Save(ctx context.Context, key string, snap *state.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.NewStoreFailed("badger_save", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
	if err != nil {
		return apperrors.NewStoreFailed("badger_save", err)
	}

	s.logger.Info("Snapshot saved",
		zap.String("key", key),
		zap.Int("persons", len(snap.Persons)),
		zap.Int("edges", len(snap.Edges)),
		zap.Int("bytes", len(data)))
	return nil
}

// Load reads the snapshot stored under key
func (s *SnapshotStore) Load(ctx context.Context, key string) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap state.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NewSnapshotNotFound(key)
	}
	if err != nil {
		return nil, apperrors.NewStoreFailed("badger_load", err)
	}
	return &snap, nil
}

// Delete removes the snapshot stored under key
func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return apperrors.NewStoreFailed("badger_delete", err)
	}
	return nil
}

// Keys lists every stored snapshot key in order
func (s *SnapshotStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStoreFailed("badger_keys", err)
	}
	return keys, nil
}
