// Package recommend turns a scored graph into the outreach feed.
package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

var tracer = otel.Tracer("talent-graph/recommend")

// Graph is the read-only view of the graph store the synthesizer needs
type Graph interface {
	Node(id string) (state.Person, bool)
	Nodes() []state.Person
	Neighbors(id string) []string
	ShortestPath(a, b string, maxHops int) ([]string, bool)
}

// Matcher exposes the target profile matching used for justifications
type Matcher interface {
	MatchOrganization(org string) (int, string)
	MatchSkills(skills []string) []string
}

// Synthesizer produces recommendations. It never mutates the graph, so
// every call reflects the graph as it is at that moment.
type Synthesizer struct {
	matcher   Matcher
	maxDegree int
	logger    *zap.Logger
}

// NewSynthesizer creates a synthesizer. maxDegree bounds hidden gem paths.
func NewSynthesizer(matcher Matcher, maxDegree int) *Synthesizer {
	return &Synthesizer{
		matcher:   matcher,
		maxDegree: maxDegree,
		logger:    logger.Named("recommend"),
	}
}

// Synthesize returns immediate outreach, warm intro, community leader and
// hidden gem recommendations, in that order.
func (s *Synthesizer) Synthesize(ctx context.Context, g Graph, seedID string) []state.Recommendation {
	_, span := tracer.Start(ctx, "recommend.Synthesize")
	defer span.End()

	persons := g.Nodes()
	candidates := persons[:0:0]
	for _, p := range persons {
		if p.ID != seedID {
			candidates = append(candidates, p)
		}
	}

	var out []state.Recommendation
	out = append(out, s.immediateOutreach(candidates)...)
	out = append(out, s.warmIntros(g, seedID, candidates)...)
	out = append(out, s.communityLeaders(g, candidates)...)
	out = append(out, s.hiddenGems(g, seedID, candidates)...)

	counts := make(map[state.RecommendationKind]int)
	for _, r := range out {
		counts[r.Kind]++
	}
	for kind, n := range counts {
		metrics.RecommendationsEmitted.WithLabelValues(string(kind)).Add(float64(n))
	}
	span.SetAttributes(attribute.Int("recommendations", len(out)))
	s.logger.Info("Recommendations synthesized",
		zap.Int("immediate_outreach", counts[state.KindImmediateOutreach]),
		zap.Int("warm_intro", counts[state.KindWarmIntro]),
		zap.Int("community_leader", counts[state.KindCommunityLeader]),
		zap.Int("hidden_gem", counts[state.KindHiddenGem]))
	return out
}

// Filter keeps only recommendations of the given kinds
func Filter(recs []state.Recommendation, kinds ...state.RecommendationKind) []state.Recommendation {
	if len(kinds) == 0 {
		return recs
	}
	want := make(map[state.RecommendationKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []state.Recommendation
	for _, r := range recs {
		if want[r.Kind] {
			out = append(out, r)
		}
	}
	return out
}

func (s *Synthesizer) immediateOutreach(persons []state.Person) []state.Recommendation {
	var picked []state.Person
	for _, p := range persons {
		if p.Degree >= 1 && p.Degree <= constants.ImmediateOutreachMaxDegree && p.RelevanceScore > constants.ImmediateOutreachMinScore {
			picked = append(picked, p)
		}
	}
	sortByScore(picked)
	picked = limit(picked, constants.ImmediateOutreachLimit)

	out := make([]state.Recommendation, 0, len(picked))
	for _, p := range picked {
		out = append(out, state.Recommendation{
			Kind:              state.KindImmediateOutreach,
			TargetID:          p.ID,
			TargetName:        p.Name,
			Organization:      p.Organization,
			Score:             p.RelevanceScore,
			MutualCount:       p.MutualCount,
			Justification:     s.Justify(p),
			SuggestedApproach: s.SuggestApproach(p),
		})
	}
	return out
}

func (s *Synthesizer) warmIntros(g Graph, seedID string, persons []state.Person) []state.Recommendation {
	var picked []state.Person
	for _, p := range persons {
		if p.Degree == constants.WarmIntroDegree && p.RelevanceScore > constants.WarmIntroMinScore {
			picked = append(picked, p)
		}
	}
	sortByScore(picked)

	var out []state.Recommendation
	for _, p := range picked {
		path, ok := g.ShortestPath(seedID, p.ID, 2)
		if !ok || len(path) != 3 {
			continue
		}
		via, ok := g.Node(path[1])
		if !ok {
			continue
		}
		out = append(out, state.Recommendation{
			Kind:          state.KindWarmIntro,
			TargetID:      p.ID,
			TargetName:    p.Name,
			Organization:  p.Organization,
			Score:         p.RelevanceScore,
			Via:           via.ID,
			ViaName:       via.Name,
			PathStrength:  PathStrength(via),
			Justification: fmt.Sprintf("Introduction through %s | %s", via.Name, s.Justify(p)),
		})
	}
	return out
}

func (s *Synthesizer) communityLeaders(g Graph, persons []state.Person) []state.Recommendation {
	var picked []state.Person
	for _, p := range persons {
		if p.RelevanceScore > constants.CommunityLeaderMinScore {
			picked = append(picked, p)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Centrality != picked[j].Centrality {
			return picked[i].Centrality > picked[j].Centrality
		}
		return picked[i].ID < picked[j].ID
	})
	picked = limit(picked, constants.CommunityLeaderLimit)

	out := make([]state.Recommendation, 0, len(picked))
	for _, p := range picked {
		neighbors := g.Neighbors(p.ID)
		out = append(out, state.Recommendation{
			Kind:             state.KindCommunityLeader,
			TargetID:         p.ID,
			TargetName:       p.Name,
			Organization:     p.Organization,
			Score:            p.RelevanceScore,
			Centrality:       p.Centrality,
			ConnectionsCount: len(neighbors),
			KeyConnections:   keyConnections(g, neighbors),
			Justification:    fmt.Sprintf("Hub with %d connections | %s", len(neighbors), s.Justify(p)),
		})
	}
	return out
}

func (s *Synthesizer) hiddenGems(g Graph, seedID string, persons []state.Person) []state.Recommendation {
	type gem struct {
		person state.Person
		skills []string
	}
	var picked []gem
	for _, p := range persons {
		if p.Degree != constants.HiddenGemDegree || p.RelevanceScore <= constants.HiddenGemMinScore {
			continue
		}
		skills := s.matcher.MatchSkills(p.Skills)
		if len(skills) < constants.HiddenGemMinSkills {
			continue
		}
		picked = append(picked, gem{person: p, skills: skills})
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].person.RelevanceScore != picked[j].person.RelevanceScore {
			return picked[i].person.RelevanceScore > picked[j].person.RelevanceScore
		}
		return picked[i].person.ID < picked[j].person.ID
	})
	if len(picked) > constants.HiddenGemLimit {
		picked = picked[:constants.HiddenGemLimit]
	}

	out := make([]state.Recommendation, 0, len(picked))
	for _, gm := range picked {
		path, _ := g.ShortestPath(seedID, gm.person.ID, s.maxDegree)
		out = append(out, state.Recommendation{
			Kind:          state.KindHiddenGem,
			TargetID:      gm.person.ID,
			TargetName:    gm.person.Name,
			Organization:  gm.person.Organization,
			Score:         gm.person.RelevanceScore,
			UniqueSkills:  gm.skills,
			PathToReach:   path,
			Justification: fmt.Sprintf("Third-degree match with %d target skills | %s", len(gm.skills), s.Justify(gm.person)),
		})
	}
	return out
}

// Justify explains why a person is relevant, e.g.
// "Works at Wiz | Expert in Go, Kubernetes, Python | 12 mutual connections"
func (s *Synthesizer) Justify(p state.Person) string {
	var parts []string
	if rank, _ := s.matcher.MatchOrganization(p.Organization); rank >= 0 {
		parts = append(parts, "Works at "+p.Organization)
	}
	if skills := s.matcher.MatchSkills(p.Skills); len(skills) > 0 {
		if len(skills) > constants.JustificationSkills {
			skills = skills[:constants.JustificationSkills]
		}
		parts = append(parts, "Expert in "+strings.Join(skills, ", "))
	}
	switch {
	case p.MutualCount == 1:
		parts = append(parts, "1 mutual connection")
	case p.MutualCount > 1:
		parts = append(parts, fmt.Sprintf("%d mutual connections", p.MutualCount))
	}
	if len(parts) == 0 {
		parts = append(parts, networkPosition(p))
	}
	return strings.Join(parts, " | ")
}

// networkPosition describes a person with no profile match by where they sit
func networkPosition(p state.Person) string {
	var pos string
	switch p.Degree {
	case 1:
		pos = "Direct connection"
	case 2:
		pos = "Second-degree connection"
	case 3:
		pos = "Third-degree connection"
	default:
		pos = fmt.Sprintf("Degree %d connection", p.Degree)
	}
	if p.Centrality > 0 {
		pos += fmt.Sprintf(", centrality %.2f", p.Centrality)
	}
	return pos
}

// SuggestApproach picks an opening for immediate outreach
func (s *Synthesizer) SuggestApproach(p state.Person) string {
	switch {
	case p.Degree == 1:
		return "Direct message - you're already connected"
	case p.MutualCount > constants.ManyMutualsThreshold:
		return "Mention mutual connections and shared network"
	}
	if rank, _ := s.matcher.MatchOrganization(p.Organization); rank >= 0 && rank < 5 {
		return "Reference company's recent achievements"
	}
	return "Focus on specific technical interests"
}

// PathStrength rates an intermediary from its score and mutual count
func PathStrength(via state.Person) float64 {
	mutual := math.Min(float64(via.MutualCount)/10, 1)
	v := 0.6*via.RelevanceScore + 0.4*mutual
	return math.Max(0, math.Min(1, v))
}

// keyConnections are the highest scoring neighbours
func keyConnections(g Graph, neighbors []string) []string {
	var ns []state.Person
	for _, id := range neighbors {
		if p, ok := g.Node(id); ok {
			ns = append(ns, p)
		}
	}
	sortByScore(ns)
	ns = limit(ns, constants.KeyConnectionsLimit)
	out := make([]string, len(ns))
	for i, p := range ns {
		out[i] = p.ID
	}
	return out
}

func sortByScore(ps []state.Person) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].RelevanceScore != ps[j].RelevanceScore {
			return ps[i].RelevanceScore > ps[j].RelevanceScore
		}
		return ps[i].ID < ps[j].ID
	})
}

func limit(ps []state.Person, n int) []state.Person {
	if len(ps) > n {
		return ps[:n]
	}
	return ps
}
