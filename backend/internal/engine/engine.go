// Package engine runs the full pipeline for one seed: resume, expansion,
// scoring, community detection, recommendations and persistence.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talent-graph/backend/internal/community"
	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/expansion"
	"talent-graph/backend/internal/fetch"
	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/identity"
	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/recommend"
	"talent-graph/backend/internal/scoring"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/config"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

const saveTimeout = 30 * time.Second

// SnapshotStore is the persistence collaborator
type SnapshotStore interface {
	Save(ctx context.Context, key string, snap *state.Snapshot) error
	Load(ctx context.Context, key string) (*state.Snapshot, error)
}

// Result is everything one run produced
type Result struct {
	RunID           string                 `json:"run_id"`
	SeedID          string                 `json:"seed_id"`
	SnapshotKey     string                 `json:"snapshot_key"`
	Resumed         bool                   `json:"resumed"`
	Rounds          []state.RoundReport    `json:"rounds"`
	Communities     []state.Community      `json:"communities"`
	Recommendations []state.Recommendation `json:"recommendations"`
	Report          state.NetworkReport    `json:"report"`
	NearMisses      []identity.NearMiss    `json:"near_misses,omitempty"`
	RetryIDs        []string               `json:"retry_ids,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
}

// Engine runs one seed at a time. Each run works on its own graph loaded
// from the snapshot store.
type Engine struct {
	cfg       config.EngineConfig
	fetcher   fetch.Fetcher
	snapshots SnapshotStore
	logger    *zap.Logger

	mu sync.Mutex
}

// New validates cfg and creates an engine. snapshots may be nil, in which
// case every run starts empty and nothing is persisted.
func New(cfg config.EngineConfig, fetcher fetch.Fetcher, snapshots SnapshotStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		snapshots: snapshots,
		logger:    logger.Named("engine"),
	}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

// SnapshotKey is the key a seed's graph is persisted under
func SnapshotKey(seed state.Record) string {
	return identity.IDFor(seed)
}

// Run expands the network around seed and synthesizes recommendations. When
// expansion is aborted the partial graph is still persisted and the partial
// result is returned together with the error.
func (e *Engine) Run(ctx context.Context, seed state.Record) (*Result, error) {
	return e.RunWithID(ctx, uuid.NewString(), seed)
}

// RunWithID is Run with a caller supplied run identifier. Runs are
// serialized.
func (e *Engine) RunWithID(ctx context.Context, runID string, seed state.Record) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.run(ctx, runID, seed)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("success").Inc()
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, runID string, seed state.Record) (*Result, error) {
	if err := seed.Validate(); err != nil {
		return nil, apperrors.NewConfigInvalid("seed", err.Error())
	}
	if seed.Source == "" {
		seed.Source = constants.SeedSource
	}

	res := &Result{
		RunID:       runID,
		SnapshotKey: SnapshotKey(seed),
		StartedAt:   time.Now().UTC(),
	}
	log := e.logger.With(zap.String("run_id", res.RunID), zap.String("snapshot_key", res.SnapshotKey))

	store, retries, resumed, err := e.load(ctx, res.SnapshotKey)
	if err != nil {
		return nil, err
	}
	res.Resumed = resumed

	resolver := identity.NewResolver(store, log.Named("identity"))
	resolver.Rebuild(store.Nodes())

	seedID, _, err := resolver.Resolve(seed, 0)
	if err != nil {
		return nil, err
	}
	if _, err := store.LowerDegree(seedID, 0); err != nil {
		return nil, err
	}
	res.SeedID = seedID
	log.Info("Run started",
		zap.String("seed_id", seedID),
		zap.Bool("resumed", resumed),
		zap.Int("persons", store.NodeCount()),
		zap.Int("retries", len(retries)))

	scorer := scoring.NewScorer(e.cfg.TargetProfile())
	rescore := func() { scorer.ScoreAll(store, seedID) }
	rescore()

	ctrl := expansion.NewController(store, resolver, e.fetcher, scorer, e.cfg)
	ctrl.AddRetries(retries)

	rounds, runErr := ctrl.Run(ctx, seedID, rescore)
	res.Rounds = rounds
	res.RetryIDs = ctrl.RetryIDs()
	res.NearMisses = resolver.NearMisses()

	if runErr != nil {
		log.Error("Expansion aborted, persisting partial graph", zap.Error(runErr))
		e.savePartial(ctx, log, res.SnapshotKey, store, seedID, res.RetryIDs)
		res.FinishedAt = time.Now().UTC()
		return res, runErr
	}

	detector := community.NewDetector(community.Options{Algorithm: e.cfg.CommunityAlgorithm})
	communities, err := detector.Detect(ctx, store)
	if err != nil {
		log.Error("Community detection failed, persisting graph", zap.Error(err))
		e.savePartial(ctx, log, res.SnapshotKey, store, seedID, res.RetryIDs)
		return res, err
	}
	res.Communities = communities

	synth := recommend.NewSynthesizer(scorer, e.cfg.MaxDegree)
	res.Recommendations = synth.Synthesize(ctx, store, seedID)
	res.Report = BuildReport(store.Nodes(), seedID, e.cfg.SkillCategories)

	if err := e.save(ctx, res.SnapshotKey, store, seedID, res.RetryIDs); err != nil {
		return res, err
	}

	res.FinishedAt = time.Now().UTC()
	stats := resolver.Stats()
	log.Info("Run complete",
		zap.Int("rounds", len(rounds)),
		zap.Int("persons", store.NodeCount()),
		zap.Int("relationships", store.EdgeCount()),
		zap.Int("communities", len(communities)),
		zap.Int("recommendations", len(res.Recommendations)),
		zap.Int("identities_created", stats.Created),
		zap.Int("identities_merged", stats.Merged),
		zap.Int("near_misses", stats.NearMisses),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// load restores the graph for key, or returns an empty one
func (e *Engine) load(ctx context.Context, key string) (*graph.Store, []string, bool, error) {
	if e.snapshots == nil {
		return graph.NewStore(), nil, false, nil
	}
	snap, err := e.snapshots.Load(ctx, key)
	if apperrors.IsSnapshotNotFound(err) {
		return graph.NewStore(), nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	store, err := graph.FromSnapshot(snap)
	if err != nil {
		return nil, nil, false, err
	}
	e.logger.Info("Snapshot loaded",
		zap.String("key", key),
		zap.Int("persons", len(snap.Persons)),
		zap.Int("edges", len(snap.Edges)))
	return store, snap.RetryIDs, true, nil
}

// savePartial persists the graph of a run that is about to fail. The run's
// own error wins, so a save failure is only logged.
func (e *Engine) savePartial(ctx context.Context, log *zap.Logger, key string, store *graph.Store, seedID string, retries []string) {
	if err := e.save(ctx, key, store, seedID, retries); err != nil {
		log.Error("Failed to persist partial graph", zap.String("snapshot_key", key), zap.Error(err))
	}
}

// save persists the graph even when ctx has already been cancelled
func (e *Engine) save(ctx context.Context, key string, store *graph.Store, seedID string, retries []string) error {
	if e.snapshots == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return e.snapshots.Save(sctx, key, store.Snapshot(seedID, retries))
}
