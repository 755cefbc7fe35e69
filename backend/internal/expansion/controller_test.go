package expansion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/identity"
	"talent-graph/backend/internal/scoring"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/config"
	apperrors "talent-graph/backend/pkg/errors"
)

// mockFetcher serves a fixed network keyed by person name
type mockFetcher struct {
	mu      sync.Mutex
	network map[string][]state.Record
	fail    map[string]error
	hang    map[string]bool
	release chan struct{}
	calls   []string
}

func newMockFetcher(network map[string][]state.Record) *mockFetcher {
	return &mockFetcher{
		network: network,
		fail:    make(map[string]error),
		hang:    make(map[string]bool),
		release: make(chan struct{}),
	}
}

func (m *mockFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, person.Name)
	err := m.fail[person.Name]
	hang := m.hang[person.Name]
	records := m.network[person.Name]
	m.mu.Unlock()

	if hang {
		// ignores ctx on purpose
		<-m.release
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (m *mockFetcher) called(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == name {
			return true
		}
	}
	return false
}

type harness struct {
	store    *graph.Store
	resolver *identity.Resolver
	scorer   *scoring.Scorer
	ctrl     *Controller
	seedID   string
}

func newHarness(t *testing.T, cfg config.EngineConfig, fetcher *mockFetcher) *harness {
	t.Helper()
	store := graph.NewStore()
	resolver := identity.NewResolver(store, zap.NewNop())
	scorer := scoring.NewScorer(cfg.TargetProfile())
	seedID, _, err := resolver.Resolve(state.Record{Name: "Seed Person", Email: "seed@example.com"}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { close(fetcher.release) })
	return &harness{
		store:    store,
		resolver: resolver,
		scorer:   scorer,
		ctrl:     NewController(store, resolver, fetcher, scorer, cfg),
		seedID:   seedID,
	}
}

func (h *harness) run(t *testing.T) ([]state.RoundReport, error) {
	t.Helper()
	return h.ctrl.Run(context.Background(), h.seedID, func() { h.scorer.ScoreAll(h.store, h.seedID) })
}

func (h *harness) idOf(t *testing.T, name string) string {
	t.Helper()
	for _, p := range h.store.Nodes() {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("person %q not found", name)
	return ""
}

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.TargetOrganizations = []string{"Org-A", "Org-B", "Org-C", "Org-D", "Org-E"}
	cfg.FetchTimeout = time.Second
	cfg.Concurrency = 4
	return cfg
}

func TestRun_CapSelectsTopScoring(t *testing.T) {
	cfg := testConfig()
	cfg.ExpansionCap = 2

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {
			{Name: "Person E", Organization: "Org-E"},
			{Name: "Person C", Organization: "Org-C"},
			{Name: "Person A", Organization: "Org-A"},
			{Name: "Person D", Organization: "Org-D"},
			{Name: "Person B", Organization: "Org-B"},
		},
		"Person A": {{Name: "Second A", Organization: "Nowhere"}},
		"Person B": {{Name: "Second B", Organization: "Nowhere"}},
		"Person C": {{Name: "Second C", Organization: "Nowhere"}},
		"Person D": {{Name: "Second D", Organization: "Nowhere"}},
		"Person E": {{Name: "Second E", Organization: "Nowhere"}},
	})
	h := newHarness(t, cfg, fetcher)

	reports, err := h.run(t)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	round := reports[1]
	assert.Equal(t, StateExpanding(1), round.State)
	assert.Equal(t, 5, round.Qualified)
	assert.ElementsMatch(t, []string{h.idOf(t, "Person A"), h.idOf(t, "Person B")}, round.Expanded)
	assert.Len(t, round.Skipped, 3)

	for _, name := range []string{"Person C", "Person D", "Person E"} {
		assert.False(t, fetcher.called(name), name)
		id := h.idOf(t, name)
		p, _ := h.store.Node(id)
		assert.Equal(t, 1, p.Degree)
		assert.False(t, p.Expanded)
		assert.Equal(t, []string{h.seedID}, h.store.Neighbors(id))
	}
	assert.Equal(t, StateDone, h.ctrl.State())
}

func TestRun_FetchFailuresAreNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 50 * time.Millisecond

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {
			{Name: "Good One", Organization: "Org-A"},
			{Name: "Broken One", Organization: "Org-B"},
			{Name: "Slow One", Organization: "Org-C"},
		},
		"Good One": {{Name: "Found Later", Organization: "Org-D"}},
	})
	fetcher.fail["Broken One"] = errors.New("upstream 500")
	fetcher.hang["Slow One"] = true
	h := newHarness(t, cfg, fetcher)

	reports, err := h.run(t)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(reports), 2)

	round := reports[1]
	broken, slow := h.idOf(t, "Broken One"), h.idOf(t, "Slow One")
	assert.ElementsMatch(t, []string{broken, slow}, round.Failed)
	assert.Equal(t, []string{h.idOf(t, "Good One")}, round.Expanded)
	assert.ElementsMatch(t, []string{broken, slow}, h.ctrl.RetryIDs())

	found, _ := h.store.Node(h.idOf(t, "Found Later"))
	assert.Equal(t, 2, found.Degree)
}

func TestRun_DegreeInvariantHolds(t *testing.T) {
	cfg := testConfig()
	cfg.ExpansionThreshold = 0

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {{Name: "Alpha", Email: "alpha@x.io"}, {Name: "Bravo", Email: "bravo@x.io"}},
		"Alpha":       {{Name: "Charlie", Email: "charlie@x.io"}, {Name: "Delta", Email: "delta@x.io"}},
		"Bravo": {
			{Name: "Charlie", Email: "charlie@x.io"},
			{Name: "Seed", Email: "seed@example.com"},
		},
		"Charlie": {{Name: "Echo", Email: "echo@x.io"}, {Name: "Bravo B.", Email: "bravo@x.io"}},
		"Delta":   {{Name: "Foxtrot", Email: "foxtrot@x.io"}, {Name: "Alpha", Email: "alpha@x.io"}},
	})
	h := newHarness(t, cfg, fetcher)

	_, err := h.run(t)
	require.NoError(t, err)

	degrees := make(map[string]int)
	for _, p := range h.store.Nodes() {
		degrees[p.ID] = p.Degree
	}
	assert.Equal(t, 0, degrees[h.seedID])
	for _, p := range h.store.Nodes() {
		if p.ID == h.seedID {
			continue
		}
		best := -1
		for _, n := range h.store.Neighbors(p.ID) {
			if best < 0 || degrees[n] < best {
				best = degrees[n]
			}
		}
		require.GreaterOrEqual(t, best, 0, p.Name)
		assert.Equal(t, best+1, p.Degree, p.Name)
	}
	assert.Equal(t, 3, degrees[h.idOf(t, "Echo")])
	assert.Equal(t, 3, degrees[h.idOf(t, "Foxtrot")])
}

func TestRun_DoneWhenNothingQualifies(t *testing.T) {
	cfg := testConfig()
	cfg.FirstHopThreshold = 1.0

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {{Name: "Only Friend", Organization: "Org-A"}},
		"Only Friend": {{Name: "Never Seen", Organization: "Org-A"}},
	})
	h := newHarness(t, cfg, fetcher)

	reports, err := h.run(t)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, StateSeed, reports[0].State)
	assert.False(t, fetcher.called("Only Friend"))
	assert.Equal(t, StateDone, h.ctrl.State())
}

func TestRun_MaxDegreeStopsExpansion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDegree = 1

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {{Name: "Friend", Organization: "Org-A"}},
		"Friend":      {{Name: "Friend Of Friend", Organization: "Org-A"}},
	})
	h := newHarness(t, cfg, fetcher)

	reports, err := h.run(t)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, 2, h.store.NodeCount())
}

func TestRun_ExcludedOrganizationsAreNotExpanded(t *testing.T) {
	cfg := testConfig()
	cfg.ExcludedOrganizations = []string{"Bank Leumi"}

	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {{Name: "Banker", Organization: "Bank Leumi"}},
		"Banker":      {{Name: "Hidden", Organization: "Org-A"}},
	})
	h := newHarness(t, cfg, fetcher)

	_, err := h.run(t)
	require.NoError(t, err)
	assert.False(t, fetcher.called("Banker"))
}

func TestRun_ResumeSkipsExpandedPersons(t *testing.T) {
	cfg := testConfig()
	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed Person": {{Name: "Friend", Organization: "Org-A"}},
	})
	h := newHarness(t, cfg, fetcher)
	require.NoError(t, h.store.Update(h.seedID, func(p *state.Person) { p.Expanded = true }))

	reports, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.False(t, fetcher.called("Seed Person"))
}

type inconsistentResolver struct{}

func (inconsistentResolver) Resolve(rec state.Record, degree int) (string, bool, error) {
	return "", false, apperrors.NewGraphInconsistency("add_node", "boom")
}

func TestRun_GraphInconsistencyAbortsRound(t *testing.T) {
	cfg := testConfig()
	store := graph.NewStore()
	require.NoError(t, store.AddNode(state.Person{ID: "seed", Name: "Seed"}))
	fetcher := newMockFetcher(map[string][]state.Record{
		"Seed": {{Name: "Anyone"}},
	})
	defer close(fetcher.release)

	ctrl := NewController(store, inconsistentResolver{}, fetcher, nil, cfg)
	reports, err := ctrl.Run(context.Background(), "seed", func() {})

	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeGraph))
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"seed"}, reports[0].Failed)

	seed, _ := store.Node("seed")
	assert.False(t, seed.Expanded)
}

func TestRun_UnknownSeed(t *testing.T) {
	ctrl := NewController(graph.NewStore(), inconsistentResolver{}, newMockFetcher(nil), nil, testConfig())
	_, err := ctrl.Run(context.Background(), "missing", func() {})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeGraph))
}

// peakFetcher records the highest number of fetches running at once
type peakFetcher struct {
	network  map[string][]state.Record
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *peakFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	f.calls.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return f.network[person.Name], nil
}

func TestRun_FetchConcurrencyIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 2
	cfg.MaxDegree = 2

	var first []state.Record
	for _, name := range []string{"ada", "boris", "chen", "dalia", "eitan", "farah"} {
		first = append(first, state.Record{Name: name, Email: name + "@org-a.io", Organization: "Org-A"})
	}
	fetcher := &peakFetcher{network: map[string][]state.Record{"Seed Person": first}}

	store := graph.NewStore()
	resolver := identity.NewResolver(store, zap.NewNop())
	scorer := scoring.NewScorer(cfg.TargetProfile())
	seedID, _, err := resolver.Resolve(state.Record{Name: "Seed Person", Email: "seed@example.com"}, 0)
	require.NoError(t, err)

	ctrl := NewController(store, resolver, fetcher, scorer, cfg)
	reports, err := ctrl.Run(context.Background(), seedID, func() { scorer.ScoreAll(store, seedID) })
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Len(t, reports[1].Expanded, 6)

	assert.EqualValues(t, 7, fetcher.calls.Load())
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(2))
	assert.EqualValues(t, 2, fetcher.peak.Load())
}
