// Package metrics holds the process-wide Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdentitiesResolved counts Resolve calls by outcome (created, merged)
	IdentitiesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentgraph_identities_resolved_total",
		Help: "Resolved person records by outcome",
	}, []string{"outcome"})

	// IdentityNearMisses counts ambiguous or conflicting identity matches
	IdentityNearMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentgraph_identity_near_misses_total",
		Help: "Records that plausibly matched more than one person",
	})

	// ExpansionRounds counts finished expansion rounds by degree
	ExpansionRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentgraph_expansion_rounds_total",
		Help: "Expansion rounds by degree",
	}, []string{"degree"})

	// NodesExpanded counts persons whose neighbours were fetched
	NodesExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentgraph_nodes_expanded_total",
		Help: "Persons expanded",
	})

	// FetchFailures counts failed or timed out neighbour fetches
	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talentgraph_fetch_failures_total",
		Help: "Neighbour fetches that failed or timed out",
	})

	// FetchDuration tracks fetch latency
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talentgraph_fetch_duration_seconds",
		Help:    "Neighbour fetch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// FetchCacheHits counts neighbour lists served from cache, by result
	FetchCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentgraph_fetch_cache_total",
		Help: "Fetch cache lookups by result",
	}, []string{"result"})

	// RecommendationsEmitted counts recommendations by kind
	RecommendationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentgraph_recommendations_total",
		Help: "Recommendations emitted by kind",
	}, []string{"kind"})

	// CommunitiesDetected tracks the number of communities per detection
	CommunitiesDetected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talentgraph_communities_detected",
		Help:    "Communities found per detection pass",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// RunsTotal counts engine runs by result
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talentgraph_runs_total",
		Help: "Engine runs by result",
	}, []string{"result"})
)
