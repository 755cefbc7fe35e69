package state

import (
	"fmt"
	"strings"
	"time"
)

// Record is a raw person record as supplied by the upstream fetch
// collaborator. Every field except Name may be empty.
type Record struct {
	ExternalID   string   `json:"external_id,omitempty"`
	Name         string   `json:"name"`
	Headline     string   `json:"headline,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Location     string   `json:"location,omitempty"`
	Email        string   `json:"email,omitempty"`
	ProfileURL   string   `json:"profile_url,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	MutualCount  int      `json:"mutual_count,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// Person is a canonical identity in the graph
type Person struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Headline       string    `json:"headline,omitempty"`
	Organization   string    `json:"organization,omitempty"`
	Location       string    `json:"location,omitempty"`
	Email          string    `json:"email,omitempty"`
	ProfileURL     string    `json:"profile_url,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"`
	// Handles are every identity key merged into this person, including
	// secondary emails and URLs that the scalar fields do not keep.
	Handles        []string  `json:"handles,omitempty"`
	Skills         []string  `json:"skills"`
	Degree         int       `json:"degree"`
	MutualCount    int       `json:"mutual_count"`
	ReportedMutual int       `json:"reported_mutual"`
	RelevanceScore float64   `json:"relevance_score"`
	Centrality     float64   `json:"centrality"`
	Tags           []string  `json:"tags"`
	Sources        []string  `json:"sources"`
	Expanded       bool      `json:"expanded"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasTag reports whether the person carries a label
func (p *Person) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a label if absent
func (p *Person) AddTag(tag string) {
	if !p.HasTag(tag) {
		p.Tags = append(p.Tags, tag)
	}
}

// RemoveTagsWithPrefix drops every label starting with prefix
func (p *Person) RemoveTagsWithPrefix(prefix string) {
	kept := p.Tags[:0]
	for _, t := range p.Tags {
		if !strings.HasPrefix(t, prefix) {
			kept = append(kept, t)
		}
	}
	p.Tags = kept
}

// Clone returns a deep copy safe to hand to other goroutines
func (p *Person) Clone() Person {
	c := *p
	c.Handles = append([]string(nil), p.Handles...)
	c.Skills = append([]string(nil), p.Skills...)
	c.Tags = append([]string(nil), p.Tags...)
	c.Sources = append([]string(nil), p.Sources...)
	return c
}

// Relationship is an undirected edge. A is always the smaller identifier.
type Relationship struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewRelationship orders the endpoints canonically
func NewRelationship(a, b string) Relationship {
	if b < a {
		a, b = b, a
	}
	return Relationship{A: a, B: b}
}

// Community is one block of a graph partition
type Community struct {
	ID               int            `json:"id"`
	Label            string         `json:"label"`
	Members          []string       `json:"members"`
	Size             int            `json:"size"`
	DominantOrg      string         `json:"dominant_organization,omitempty"`
	DominantSkills   []string       `json:"dominant_skills,omitempty"`
	TopOrganizations map[string]int `json:"top_organizations,omitempty"`
	TopSkills        map[string]int `json:"top_skills,omitempty"`
}

// RecommendationKind names one of the four recommendation classes
type RecommendationKind string

const (
	KindImmediateOutreach RecommendationKind = "immediate_outreach"
	KindWarmIntro         RecommendationKind = "warm_intro"
	KindCommunityLeader   RecommendationKind = "community_leader"
	KindHiddenGem         RecommendationKind = "hidden_gem"
)

// ParseRecommendationKind validates a kind name
func ParseRecommendationKind(s string) (RecommendationKind, error) {
	switch k := RecommendationKind(s); k {
	case KindImmediateOutreach, KindWarmIntro, KindCommunityLeader, KindHiddenGem:
		return k, nil
	}
	return "", fmt.Errorf("unknown recommendation kind: %s", s)
}

// Recommendation is one entry of the outbound feed
type Recommendation struct {
	Kind          RecommendationKind `json:"kind"`
	TargetID      string             `json:"target_id"`
	TargetName    string             `json:"target_name"`
	Organization  string             `json:"organization,omitempty"`
	Score         float64            `json:"score"`
	Justification string             `json:"justification"`

	// immediate_outreach
	SuggestedApproach string `json:"suggested_approach,omitempty"`
	MutualCount       int    `json:"mutual_count,omitempty"`

	// warm_intro
	Via          string  `json:"via,omitempty"`
	ViaName      string  `json:"via_name,omitempty"`
	PathStrength float64 `json:"path_strength,omitempty"`

	// community_leader
	Centrality       float64  `json:"centrality,omitempty"`
	ConnectionsCount int      `json:"connections_count,omitempty"`
	KeyConnections   []string `json:"key_connections,omitempty"`

	// hidden_gem
	UniqueSkills []string `json:"unique_skills,omitempty"`
	PathToReach  []string `json:"path_to_reach,omitempty"`
}

// TargetProfile describes the role the graph is scored against
type TargetProfile struct {
	Organizations         []string            `json:"organizations"`
	SkillCategories       map[string][]string `json:"skill_categories"`
	ExcludedOrganizations []string            `json:"excluded_organizations,omitempty"`
}

// AllSkills flattens every category into one lower-cased lookup set
func (t *TargetProfile) AllSkills() map[string]string {
	out := make(map[string]string)
	for _, skills := range t.SkillCategories {
		for _, s := range skills {
			out[strings.ToLower(strings.TrimSpace(s))] = s
		}
	}
	return out
}

// RoundReport summarises one expansion round
type RoundReport struct {
	State      string    `json:"state"`
	Degree     int       `json:"degree"`
	Qualified  int       `json:"qualified"`
	Expanded   []string  `json:"expanded"`
	Skipped    []string  `json:"skipped,omitempty"`
	Failed     []string  `json:"failed,omitempty"`
	NewPersons int       `json:"new_persons"`
	NewEdges   int       `json:"new_edges"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
}

// NetworkReport is the aggregate view of a run
type NetworkReport struct {
	TotalAnalyzed     int                       `json:"total_analyzed"`
	ByDegree          map[int]int               `json:"by_degree"`
	TopOrganizations  []OrganizationCount       `json:"top_organizations"`
	SkillDistribution map[string]map[string]int `json:"skill_distribution"`
}

// OrganizationCount pairs an organization with its member count
type OrganizationCount struct {
	Organization string `json:"organization"`
	Count        int    `json:"count"`
}

// Snapshot is the serializable form of a graph
type Snapshot struct {
	Version int            `json:"version"`
	SeedID  string         `json:"seed_id"`
	SavedAt time.Time      `json:"saved_at"`
	Persons []Person       `json:"persons"`
	Edges   []Relationship `json:"edges"`
	// RetryIDs are persons whose fetch failed and should be retried next run
	RetryIDs []string `json:"retry_ids,omitempty"`
}

// SnapshotVersion is the current snapshot encoding version
const SnapshotVersion = 1

// Validate checks referential integrity of a snapshot
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return ErrInvalidSnapshot{Reason: fmt.Sprintf("unsupported version %d", s.Version)}
	}
	ids := make(map[string]bool, len(s.Persons))
	for _, p := range s.Persons {
		if p.ID == "" {
			return ErrInvalidSnapshot{Reason: "person without id"}
		}
		if ids[p.ID] {
			return ErrInvalidSnapshot{Reason: "duplicate person " + p.ID}
		}
		ids[p.ID] = true
	}
	for _, e := range s.Edges {
		if !ids[e.A] || !ids[e.B] {
			return ErrInvalidSnapshot{Reason: fmt.Sprintf("edge %s-%s references unknown person", e.A, e.B)}
		}
		if e.A == e.B {
			return ErrInvalidSnapshot{Reason: "self loop on " + e.A}
		}
	}
	if s.SeedID != "" && !ids[s.SeedID] {
		return ErrInvalidSnapshot{Reason: "seed not present"}
	}
	return nil
}

// Validate checks the minimum a record needs to be resolved
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.ProfileURL) == "" {
		return ErrInvalidRecord{Reason: "record has no name, email or profile url"}
	}
	return nil
}

// Errors

type ErrInvalidRecord struct {
	Reason string
}

func (e ErrInvalidRecord) Error() string {
	return fmt.Sprintf("invalid record: %s", e.Reason)
}

type ErrInvalidSnapshot struct {
	Reason string
}

func (e ErrInvalidSnapshot) Error() string {
	return fmt.Sprintf("invalid snapshot: %s", e.Reason)
}
