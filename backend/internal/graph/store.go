package graph

import (
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
)

// ============================================================================
// In-memory Graph Store
// ============================================================================

// ErrSelfLoop is returned by AddEdge when both endpoints are the same person.
// It is rejected but never fatal.
var ErrSelfLoop = stderrors.New("self loop rejected")

// Store holds canonical persons and their relationships. Writes are expected
// from a single coordinator; reads are safe from any goroutine.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*state.Person
	adj   map[string]map[string]struct{}
	edges map[state.Relationship]struct{}
}

// NewStore creates an empty graph store
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*state.Person),
		adj:   make(map[string]map[string]struct{}),
		edges: make(map[state.Relationship]struct{}),
	}
}

// AddNode inserts a new person. Inserting an existing identifier is a graph
// inconsistency: merges go through Update.
func (s *Store) AddNode(p state.Person) error {
	if p.ID == "" {
		return apperrors.NewGraphInconsistency("add_node", "empty person id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[p.ID]; exists {
		return apperrors.NewGraphInconsistency("add_node", "duplicate person "+p.ID)
	}
	c := p.Clone()
	s.nodes[p.ID] = &c
	s.adj[p.ID] = make(map[string]struct{})
	return nil
}

// AddEdge connects two existing persons. It is symmetric, a duplicate is a
// silent no-op (added=false) and a self loop returns ErrSelfLoop.
func (s *Store) AddEdge(a, b string) (bool, error) {
	if a == b {
		return false, ErrSelfLoop
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[a]; !ok {
		return false, apperrors.NewGraphInconsistency("add_edge", "unknown person "+a)
	}
	if _, ok := s.nodes[b]; !ok {
		return false, apperrors.NewGraphInconsistency("add_edge", "unknown person "+b)
	}
	rel := state.NewRelationship(a, b)
	if _, exists := s.edges[rel]; exists {
		return false, nil
	}
	s.edges[rel] = struct{}{}
	s.adj[a][b] = struct{}{}
	s.adj[b][a] = struct{}{}
	return true, nil
}

// HasNode reports whether a person exists
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// HasEdge reports whether two persons are connected
func (s *Store) HasEdge(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[state.NewRelationship(a, b)]
	return ok
}

// Node returns a copy of a person
func (s *Store) Node(id string) (state.Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.nodes[id]
	if !ok {
		return state.Person{}, false
	}
	return p.Clone(), true
}

// Update mutates a person in place under the write lock. The identifier and
// degree cannot be changed here; use LowerDegree for the latter.
func (s *Store) Update(id string, fn func(p *state.Person)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.nodes[id]
	if !ok {
		return apperrors.NewGraphInconsistency("update", "unknown person "+id)
	}
	degree := p.Degree
	fn(p)
	p.ID = id
	p.Degree = degree
	return nil
}

// Neighbors returns the sorted identifiers adjacent to id
func (s *Store) Neighbors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.adj[id])
}

// ConnectionCount is the number of relationships a person has
func (s *Store) ConnectionCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.adj[id])
}

// CommonNeighbors counts persons adjacent to both a and b
func (s *Store) CommonNeighbors(a, b string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	na, nb := s.adj[a], s.adj[b]
	if len(nb) < len(na) {
		na, nb = nb, na
	}
	count := 0
	for id := range na {
		if _, ok := nb[id]; ok {
			count++
		}
	}
	return count
}

// IDs returns every person identifier in sorted order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Nodes returns copies of every person sorted by identifier
func (s *Store) Nodes() []state.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]state.Person, 0, len(s.nodes))
	for _, p := range s.nodes {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesAtDegree returns copies of persons at exactly the given degree
func (s *Store) NodesAtDegree(degree int) []state.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []state.Person
	for _, p := range s.nodes {
		if p.Degree == degree {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns every relationship in canonical order
func (s *Store) Edges() []state.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]state.Relationship, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// NodeCount returns the number of persons
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of relationships
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// LowerDegree sets a person's degree to d if that is smaller than the current
// value and relaxes neighbours so every degree stays 1 + the minimum degree
// of an adjacent person. Degrees never increase. Returns the identifiers whose
// degree changed.
func (s *Store) LowerDegree(id string, d int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.nodes[id]
	if !ok {
		return nil, apperrors.NewGraphInconsistency("lower_degree", "unknown person "+id)
	}
	if d >= p.Degree {
		return nil, nil
	}
	p.Degree = d
	changed := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := s.nodes[cur].Degree + 1
		for _, n := range sortedKeys(s.adj[cur]) {
			np := s.nodes[n]
			if np.Degree > next {
				np.Degree = next
				changed = append(changed, n)
				queue = append(queue, n)
			}
		}
	}
	return changed, nil
}

// ShortestPath returns the minimum-length path from a to b with at most
// maxHops edges. Among all minimum-length paths the one whose concatenated
// identifiers sort first is returned.
func (s *Store) ShortestPath(a, b string, maxHops int) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[a]; !ok {
		return nil, false
	}
	if _, ok := s.nodes[b]; !ok {
		return nil, false
	}
	if a == b {
		return []string{a}, true
	}

	// Hop distance to b, bounded by maxHops.
	distB := map[string]int{b: 0}
	frontier := []string{b}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for n := range s.adj[cur] {
				if _, seen := distB[n]; !seen {
					distB[n] = hop
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	if _, ok := distB[a]; !ok {
		return nil, false
	}

	// best[v] is the smallest concatenation of a shortest v..b path. For a
	// fixed prefix the smallest suffix yields the smallest whole, so the
	// choice is made greedily per node over the shortest-path DAG.
	best := make(map[string]string)
	choice := make(map[string]string)
	var solve func(v string) string
	solve = func(v string) string {
		if v == b {
			return v
		}
		if cached, ok := best[v]; ok {
			return cached
		}
		d := distB[v]
		var bestSuffix, bestNext string
		for n := range s.adj[v] {
			if dn, ok := distB[n]; !ok || dn != d-1 {
				continue
			}
			suffix := solve(n)
			if bestNext == "" || suffix < bestSuffix || (suffix == bestSuffix && n < bestNext) {
				bestSuffix, bestNext = suffix, n
			}
		}
		best[v] = v + bestSuffix
		choice[v] = bestNext
		return best[v]
	}
	solve(a)

	path := []string{a}
	for v := a; v != b; {
		v = choice[v]
		path = append(path, v)
	}
	return path, true
}

// DegreeCentrality returns connections/(n-1) for every person
func (s *Store) DegreeCentrality() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.nodes))
	n := len(s.nodes)
	for id := range s.nodes {
		if n <= 1 {
			out[id] = 0
			continue
		}
		out[id] = float64(len(s.adj[id])) / float64(n-1)
	}
	return out
}

// Snapshot serialises the store
func (s *Store) Snapshot(seedID string, retryIDs []string) *state.Snapshot {
	return &state.Snapshot{
		Version:  state.SnapshotVersion,
		SeedID:   seedID,
		SavedAt:  time.Now().UTC(),
		Persons:  s.Nodes(),
		Edges:    s.Edges(),
		RetryIDs: append([]string(nil), retryIDs...),
	}
}

// FromSnapshot rebuilds a store. Dangling edges are a graph inconsistency
// and are never repaired silently.
func FromSnapshot(snap *state.Snapshot) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, apperrors.NewGraphInconsistency("load_snapshot", err.Error())
	}
	s := NewStore()
	for _, p := range snap.Persons {
		if err := s.AddNode(p); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Edges {
		if _, err := s.AddEdge(e.A, e.B); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
