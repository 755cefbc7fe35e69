package identity

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/signals"
	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

// personNamespace scopes the deterministic person identifiers
var personNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("talent-graph/person"))

// PersonID derives the canonical identifier for an identity component
func PersonID(component string) string {
	return uuid.NewSHA1(personNamespace, []byte(component)).String()
}

// PersonStore is the subset of the graph store the resolver writes through
type PersonStore interface {
	AddNode(p state.Person) error
	Update(id string, fn func(p *state.Person)) error
	Node(id string) (state.Person, bool)
	Nodes() []state.Person
}

// NearMiss records a record that plausibly matched more than one person.
// The resolver always keeps the exact-key match.
type NearMiss struct {
	RecordKey string    `json:"record_key"`
	KeptID    string    `json:"kept_id"`
	OtherID   string    `json:"other_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Stats counts resolver outcomes
type Stats struct {
	Created    int `json:"created"`
	Merged     int `json:"merged"`
	NearMisses int `json:"near_misses"`
}

// Resolver merges incoming records into canonical persons. It owns the
// identity index; nothing else writes to it.
type Resolver struct {
	mu         sync.Mutex
	store      PersonStore
	index      map[string]string
	nearMisses []NearMiss
	stats      Stats
	logger     *zap.Logger
	now        func() time.Time
}

// NewResolver creates a resolver writing through store
func NewResolver(store PersonStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = logger.Named("identity")
	}
	return &Resolver{
		store:  store,
		index:  make(map[string]string),
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Rebuild re-indexes persons loaded from a snapshot so resuming never
// re-resolves identities that were already merged.
func (r *Resolver) Rebuild(persons []state.Person) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index = make(map[string]string)
	sorted := append([]state.Person(nil), persons...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, p := range sorted {
		for _, c := range append(KeyOf(p).Components(), p.Handles...) {
			if _, taken := r.index[c]; !taken {
				r.index[c] = p.ID
			}
		}
	}
	r.logger.Debug("Identity index rebuilt",
		zap.Int("persons", len(sorted)),
		zap.Int("keys", len(r.index)))
}

// Resolve maps a record onto a canonical person, creating one at the given
// degree when nothing matches. Resolving an equivalent record again returns
// the same identifier.
func (r *Resolver) Resolve(rec state.Record, degree int) (string, bool, error) {
	if err := rec.Validate(); err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := KeyFor(rec)
	exactID := r.exactMatch(rec, key)
	fuzzyID := r.fuzzyMatch(rec, key, exactID)

	switch {
	case exactID != "" && fuzzyID != "":
		ambiguous := apperrors.NewIdentityAmbiguous(key.String(), exactID, fuzzyID)
		r.recordNearMiss(key.String(), exactID, fuzzyID, ambiguous.Error())
		fallthrough
	case exactID != "":
		if err := r.merge(exactID, rec, key); err != nil {
			return "", false, err
		}
		return exactID, false, nil
	case fuzzyID != "":
		if err := r.merge(fuzzyID, rec, key); err != nil {
			return "", false, err
		}
		return fuzzyID, false, nil
	}

	id, err := r.create(rec, key, degree)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// NearMisses returns every ambiguous match seen so far
func (r *Resolver) NearMisses() []NearMiss {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NearMiss(nil), r.nearMisses...)
}

// Stats returns resolver counters
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ============================================================================
// Matching
// ============================================================================

// exactMatch looks the record up by handle. Email outranks the profile URL,
// which outranks the external identifier; disagreeing handles are kept as a
// near-miss. Handle-less records match on their content fingerprint.
func (r *Resolver) exactMatch(rec state.Record, key Key) string {
	if key.IsZero() {
		id := PersonID(Fingerprint(rec))
		if _, ok := r.store.Node(id); ok {
			return id
		}
		return ""
	}

	var found string
	for _, c := range key.Components() {
		id, ok := r.index[c]
		if !ok {
			continue
		}
		if found == "" {
			found = id
			continue
		}
		if id != found {
			r.recordNearMiss(key.String(), found, id, "handles point at different persons: "+c)
		}
	}
	return found
}

// fuzzyMatch compares cleaned name and organization against every person.
// An empty organization on either side disables the comparison, as do
// handles of the same kind that disagree.
func (r *Resolver) fuzzyMatch(rec state.Record, key Key, exclude string) string {
	name := CleanName(rec.Name)
	org := strings.TrimSpace(rec.Organization)
	if name == "" || org == "" {
		return ""
	}

	var (
		bestID   string
		bestName float64
		bestOrg  float64
	)
	for _, p := range r.store.Nodes() {
		if p.ID == exclude || strings.TrimSpace(p.Organization) == "" {
			continue
		}
		if handlesConflict(key, KeyOf(p)) {
			continue
		}
		nameRatio := Ratio(name, CleanName(p.Name))
		if nameRatio < constants.NameSimilarityThreshold {
			continue
		}
		orgRatio := Ratio(org, p.Organization)
		if orgRatio < constants.OrganizationSimilarityThreshold {
			continue
		}
		better := bestID == "" ||
			nameRatio > bestName ||
			(nameRatio == bestName && orgRatio > bestOrg) ||
			(nameRatio == bestName && orgRatio == bestOrg && p.ID < bestID)
		if better {
			bestID, bestName, bestOrg = p.ID, nameRatio, orgRatio
		}
	}
	return bestID
}

func handlesConflict(a, b Key) bool {
	if a.Email != "" && b.Email != "" && a.Email != b.Email {
		return true
	}
	if a.ProfileURL != "" && b.ProfileURL != "" && a.ProfileURL != b.ProfileURL {
		return true
	}
	return false
}

func (r *Resolver) recordNearMiss(recordKey, keptID, otherID, reason string) {
	r.nearMisses = append(r.nearMisses, NearMiss{
		RecordKey: recordKey,
		KeptID:    keptID,
		OtherID:   otherID,
		Reason:    reason,
		At:        r.now(),
	})
	r.stats.NearMisses++
	metrics.IdentityNearMisses.Inc()
	r.logger.Warn("Identity near-miss",
		zap.String("record_key", recordKey),
		zap.String("kept_id", keptID),
		zap.String("other_id", otherID),
		zap.String("reason", reason))
}

// ============================================================================
// Create / Merge
// ============================================================================

// IDFor returns the identifier a new person created from rec would get
func IDFor(rec state.Record) string {
	if components := KeyFor(rec).Components(); len(components) > 0 {
		return PersonID(components[0])
	}
	return PersonID(Fingerprint(rec))
}

func (r *Resolver) create(rec state.Record, key Key, degree int) (string, error) {
	id := IDFor(rec)
	claimed := r.claimable(id, key)

	now := r.now()
	p := state.Person{
		ID:             id,
		Name:           CleanName(rec.Name),
		Headline:       strings.TrimSpace(rec.Headline),
		Organization:   strings.TrimSpace(rec.Organization),
		Location:       signals.NormalizeLocation(rec.Location),
		Email:          key.Email,
		ProfileURL:     key.ProfileURL,
		ExternalID:     strings.TrimSpace(rec.ExternalID),
		Handles:        mergeHandles(nil, claimed),
		Skills:         mergeSkills(nil, recordSkills(rec)),
		Degree:         degree,
		MutualCount:    rec.MutualCount,
		ReportedMutual: rec.MutualCount,
		Tags:           []string{},
		Sources:        addSource(nil, rec.Source),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.AddNode(p); err != nil {
		return "", err
	}
	for _, c := range claimed {
		r.index[c] = id
	}

	r.stats.Created++
	metrics.IdentitiesResolved.WithLabelValues("created").Inc()
	r.logger.Debug("Person created",
		zap.String("person_id", id),
		zap.String("name", p.Name),
		zap.Int("degree", degree))
	return id, nil
}

// merge folds a record into an existing person. Scalars keep the first
// non-empty value, skills and sources are unioned. Re-merging the same
// record changes nothing but UpdatedAt.
func (r *Resolver) merge(id string, rec state.Record, key Key) error {
	now := r.now()
	claimed := r.claimable(id, key)
	err := r.store.Update(id, func(p *state.Person) {
		p.Name = firstNonEmpty(p.Name, CleanName(rec.Name))
		p.Headline = firstNonEmpty(p.Headline, strings.TrimSpace(rec.Headline))
		p.Organization = firstNonEmpty(p.Organization, strings.TrimSpace(rec.Organization))
		p.Location = firstNonEmpty(p.Location, signals.NormalizeLocation(rec.Location))
		p.Email = firstNonEmpty(p.Email, key.Email)
		p.ProfileURL = firstNonEmpty(p.ProfileURL, key.ProfileURL)
		p.ExternalID = firstNonEmpty(p.ExternalID, strings.TrimSpace(rec.ExternalID))
		p.Handles = mergeHandles(p.Handles, claimed)
		p.Skills = mergeSkills(p.Skills, recordSkills(rec))
		p.Sources = addSource(p.Sources, rec.Source)
		if rec.MutualCount > p.ReportedMutual {
			p.ReportedMutual = rec.MutualCount
		}
		if p.ReportedMutual > p.MutualCount {
			p.MutualCount = p.ReportedMutual
		}
		p.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	for _, c := range claimed {
		r.index[c] = id
	}

	r.stats.Merged++
	metrics.IdentitiesResolved.WithLabelValues("merged").Inc()
	return nil
}

// claimable returns the key components that are free or already point at id.
// A handle owned by another person stays with that person.
func (r *Resolver) claimable(id string, key Key) []string {
	var out []string
	for _, c := range key.Components() {
		if owner, taken := r.index[c]; !taken || owner == id {
			out = append(out, c)
		}
	}
	return out
}

func mergeHandles(existing, incoming []string) []string {
	out := append([]string(nil), existing...)
	for _, h := range incoming {
		found := false
		for _, e := range out {
			if e == h {
				found = true
				break
			}
		}
		if !found {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// recordSkills returns the explicit skills plus those implied by the headline
func recordSkills(rec state.Record) []string {
	skills := append([]string(nil), rec.Skills...)
	return append(skills, signals.ExtractSkills(rec.Headline)...)
}

// mergeSkills unions case-insensitively, keeping the first spelling seen
func mergeSkills(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	for _, s := range incoming {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func addSource(sources []string, source string) []string {
	source = strings.TrimSpace(source)
	if source == "" {
		return sources
	}
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}
