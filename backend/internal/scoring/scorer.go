// Package scoring computes how relevant every known person is to a target
// role profile.
package scoring

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/signals"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

// Graph is the read/write view of the graph store the scorer needs
type Graph interface {
	Nodes() []state.Person
	CommonNeighbors(a, b string) int
	DegreeCentrality() map[string]float64
	Update(id string, fn func(p *state.Person)) error
}

// Breakdown is a score split into its capped terms
type Breakdown struct {
	Degree       float64 `json:"degree"`
	Organization float64 `json:"organization"`
	Skills       float64 `json:"skills"`
	Mutual       float64 `json:"mutual"`
	Centrality   float64 `json:"centrality"`
	Total        float64 `json:"total"`

	MatchedOrganization string   `json:"matched_organization,omitempty"`
	OrganizationRank    int      `json:"organization_rank"`
	MatchedSkills       []string `json:"matched_skills,omitempty"`
}

// Scorer scores persons against one target profile
type Scorer struct {
	profile state.TargetProfile
	skills  map[string]string
	logger  *zap.Logger
}

// NewScorer creates a scorer for profile
func NewScorer(profile state.TargetProfile) *Scorer {
	return &Scorer{
		profile: profile,
		skills:  profile.AllSkills(),
		logger:  logger.Named("scoring"),
	}
}

// Profile returns the target profile being scored against
func (s *Scorer) Profile() state.TargetProfile {
	return s.profile
}

// Score is a pure function of the person and its degree centrality
func (s *Scorer) Score(p state.Person, centrality float64) Breakdown {
	var b Breakdown

	switch {
	case p.Degree <= 0:
		b.Degree = 0
	case p.Degree == 1:
		b.Degree = constants.DegreeOneWeight
	case p.Degree == 2:
		b.Degree = constants.DegreeTwoWeight
	default:
		b.Degree = constants.DegreeFarWeight
	}

	b.OrganizationRank = -1
	if rank, name := s.MatchOrganization(p.Organization); rank >= 0 {
		n := float64(len(s.profile.Organizations))
		b.Organization = capAt(constants.OrganizationCap*(1-float64(rank)/n), constants.OrganizationCap)
		b.MatchedOrganization = name
		b.OrganizationRank = rank
	}

	b.MatchedSkills = s.MatchSkills(p.Skills)
	b.Skills = capAt(float64(len(b.MatchedSkills))*constants.SkillWeight, constants.SkillCap)

	b.Mutual = capAt(float64(p.MutualCount)*constants.MutualWeight, constants.MutualCap)
	b.Centrality = capAt(centrality*constants.CentralityCap, constants.CentralityCap)

	b.Total = capAt(b.Degree+b.Organization+b.Skills+b.Mutual+b.Centrality, constants.MaxRelevanceScore)
	return b
}

// MatchOrganization returns the rank and canonical name of the first target
// organization contained in org, or -1 when none matches.
func (s *Scorer) MatchOrganization(org string) (int, string) {
	lower := strings.ToLower(strings.TrimSpace(org))
	if lower == "" {
		return -1, ""
	}
	for i, target := range s.profile.Organizations {
		t := strings.ToLower(strings.TrimSpace(target))
		if t != "" && strings.Contains(lower, t) {
			return i, target
		}
	}
	return -1, ""
}

// MatchSkills returns the canonical target skills a person has, sorted
func (s *Scorer) MatchSkills(skills []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, skill := range skills {
		canonical, ok := s.skills[strings.ToLower(strings.TrimSpace(skill))]
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out
}

// IsExcluded reports whether org is on the excluded list
func (s *Scorer) IsExcluded(org string) bool {
	lower := strings.ToLower(strings.TrimSpace(org))
	if lower == "" {
		return false
	}
	for _, ex := range s.profile.ExcludedOrganizations {
		if e := strings.ToLower(strings.TrimSpace(ex)); e != "" && strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

// ScoreAll recomputes mutual counts, centrality, scores and derived tags for
// every person. Centrality is recomputed globally, O(V+E) per call.
func (s *Scorer) ScoreAll(g Graph, seedID string) {
	centrality := g.DegreeCentrality()
	persons := g.Nodes()

	for _, p := range persons {
		mutual := p.ReportedMutual
		switch {
		case p.ID == seedID:
			mutual = 0
		case seedID != "":
			if observed := g.CommonNeighbors(seedID, p.ID); observed > mutual {
				mutual = observed
			}
		}
		p.MutualCount = mutual
		b := s.Score(p, centrality[p.ID])
		tags := signals.Tags(p.Headline, p.Location, p.Degree, b.OrganizationRank >= 0)

		err := g.Update(p.ID, func(target *state.Person) {
			target.MutualCount = mutual
			target.Centrality = centrality[p.ID]
			target.RelevanceScore = b.Total
			target.RemoveTagsWithPrefix("degree_")
			for _, derived := range []string{"leadership", "senior", "junior", "preferred_company", "tel_aviv"} {
				target.RemoveTagsWithPrefix(derived)
			}
			for _, tag := range tags {
				target.AddTag(tag)
			}
		})
		if err != nil {
			s.logger.Warn("Failed to write back score", zap.String("person_id", p.ID), zap.Error(err))
		}
	}

	s.logger.Debug("Scores recomputed", zap.Int("persons", len(persons)))
}

func capAt(v, limit float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(v, limit)
}
