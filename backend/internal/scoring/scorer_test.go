package scoring

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/state"
)

func testProfile() state.TargetProfile {
	return state.TargetProfile{
		Organizations: []string{"Org-A", "Org-B", "Org-C", "Org-D"},
		SkillCategories: map[string][]string{
			"backend": {"Go", "Python", "Kubernetes"},
			"data":    {"SQL", "Kafka", "Spark"},
		},
		ExcludedOrganizations: []string{"Bank Leumi"},
	}
}

func TestScore_DirectConnectionTopOrganization(t *testing.T) {
	s := NewScorer(testProfile())
	p := state.Person{
		ID:           "a",
		Degree:       1,
		Organization: "Org-A",
		Skills:       []string{"Go", "Python", "Kubernetes", "SQL", "Kafka"},
	}

	b := s.Score(p, 0)

	assert.InDelta(t, 0.3, b.Degree, 1e-9)
	assert.InDelta(t, 0.3, b.Organization, 1e-9)
	assert.InDelta(t, 0.3, b.Skills, 1e-9)
	assert.Equal(t, 0.0, b.Mutual)
	assert.GreaterOrEqual(t, b.Total+1e-9, 0.9)
	assert.Equal(t, "Org-A", b.MatchedOrganization)
	assert.Len(t, b.MatchedSkills, 5)
}

func TestScore_OrganizationRankDecays(t *testing.T) {
	s := NewScorer(testProfile())

	first := s.Score(state.Person{Degree: 2, Organization: "Org-A Ltd"}, 0)
	third := s.Score(state.Person{Degree: 2, Organization: "org-c"}, 0)
	outside := s.Score(state.Person{Degree: 2, Organization: "Elsewhere"}, 0)

	assert.InDelta(t, 0.3, first.Organization, 1e-9)
	assert.InDelta(t, 0.15, third.Organization, 1e-9)
	assert.Equal(t, 0.0, outside.Organization)
	assert.Equal(t, -1, outside.OrganizationRank)
}

func TestScore_DegreeTerm(t *testing.T) {
	s := NewScorer(testProfile())
	assert.Equal(t, 0.0, s.Score(state.Person{Degree: 0}, 0).Degree)
	assert.Equal(t, 0.3, s.Score(state.Person{Degree: 1}, 0).Degree)
	assert.Equal(t, 0.2, s.Score(state.Person{Degree: 2}, 0).Degree)
	assert.Equal(t, 0.1, s.Score(state.Person{Degree: 5}, 0).Degree)
}

func TestScore_SkillsCaseInsensitiveAndDeduplicated(t *testing.T) {
	s := NewScorer(testProfile())
	b := s.Score(state.Person{Degree: 3, Skills: []string{"go", "GO", "Rust"}}, 0)

	assert.Equal(t, []string{"Go"}, b.MatchedSkills)
	assert.InDelta(t, 0.1, b.Skills, 1e-9)
}

func TestScore_SkillsCountedAcrossCategories(t *testing.T) {
	profile := testProfile()
	profile.SkillCategories["platform"] = []string{"Go", "Terraform"}
	s := NewScorer(profile)

	// one skill from each category, Go listed twice
	b := s.Score(state.Person{Degree: 3, Skills: []string{"Go", "SQL", "Terraform"}}, 0)
	assert.Equal(t, []string{"Go", "SQL", "Terraform"}, b.MatchedSkills)
	assert.InDelta(t, 0.3, b.Skills, 1e-9)
}

func TestScore_TermsNeverExceedCaps(t *testing.T) {
	s := NewScorer(testProfile())
	rng := rand.New(rand.NewSource(42))
	orgs := []string{"", "Org-A", "Org-B", "Org-D", "Other"}
	allSkills := []string{"Go", "Python", "Kubernetes", "SQL", "Kafka", "Spark", "Rust", "Haskell"}

	for i := 0; i < 500; i++ {
		var skills []string
		for _, sk := range allSkills {
			if rng.Intn(2) == 0 {
				skills = append(skills, sk)
			}
		}
		p := state.Person{
			ID:           fmt.Sprintf("p%d", i),
			Degree:       rng.Intn(5),
			Organization: orgs[rng.Intn(len(orgs))],
			Skills:       skills,
			MutualCount:  rng.Intn(40),
		}
		b := s.Score(p, rng.Float64())

		assert.LessOrEqual(t, b.Degree, constants.DegreeOneWeight)
		assert.LessOrEqual(t, b.Organization, constants.OrganizationCap)
		assert.LessOrEqual(t, b.Skills, constants.SkillCap)
		assert.LessOrEqual(t, b.Mutual, constants.MutualCap)
		assert.LessOrEqual(t, b.Centrality, constants.CentralityCap)
		assert.GreaterOrEqual(t, b.Total, 0.0)
		assert.LessOrEqual(t, b.Total, 1.0)
	}
}

func TestIsExcluded(t *testing.T) {
	s := NewScorer(testProfile())
	assert.True(t, s.IsExcluded("Bank Leumi Le-Israel"))
	assert.False(t, s.IsExcluded("Org-A"))
	assert.False(t, s.IsExcluded(""))
}

func TestScoreAll_RecomputesMutualAndCentrality(t *testing.T) {
	store := graph.NewStore()
	for id, d := range map[string]int{"seed": 0, "a": 1, "b": 1, "c": 2} {
		require.NoError(t, store.AddNode(state.Person{ID: id, Degree: d, Organization: "Org-B"}))
	}
	require.NoError(t, store.Update("c", func(p *state.Person) { p.ReportedMutual = 1 }))
	for _, e := range [][2]string{{"seed", "a"}, {"seed", "b"}, {"a", "c"}, {"b", "c"}} {
		_, err := store.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}

	s := NewScorer(testProfile())
	s.ScoreAll(store, "seed")

	c, _ := store.Node("c")
	assert.Equal(t, 2, c.MutualCount, "observed common neighbours outrank the reported count")
	assert.InDelta(t, 2.0/3.0, c.Centrality, 1e-9)
	assert.True(t, c.HasTag("degree_2"))
	assert.True(t, c.HasTag("preferred_company"))

	seed, _ := store.Node("seed")
	assert.Equal(t, 0, seed.MutualCount)

	for _, p := range store.Nodes() {
		assert.GreaterOrEqual(t, p.RelevanceScore, 0.0)
		assert.LessOrEqual(t, p.RelevanceScore, 1.0)
	}

	// Re-running is stable and does not duplicate tags
	s.ScoreAll(store, "seed")
	again, _ := store.Node("c")
	assert.Equal(t, c.RelevanceScore, again.RelevanceScore)
	assert.Equal(t, c.Tags, again.Tags)
}

// rejectingGraph fails every write to one person
type rejectingGraph struct {
	*graph.Store
	reject string
}

func (g rejectingGraph) Update(id string, fn func(p *state.Person)) error {
	if id == g.reject {
		return errors.New("write rejected")
	}
	return g.Store.Update(id, fn)
}

func TestScoreAll_LogsFailedWriteBack(t *testing.T) {
	store := graph.NewStore()
	require.NoError(t, store.AddNode(state.Person{ID: "seed"}))
	require.NoError(t, store.AddNode(state.Person{ID: "a", Degree: 1, Organization: "Org-A"}))
	require.NoError(t, store.AddNode(state.Person{ID: "b", Degree: 1, Organization: "Org-A"}))

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewScorer(testProfile())
	s.logger = zap.New(core)
	s.ScoreAll(rejectingGraph{Store: store, reject: "b"}, "seed")

	entries := logs.FilterMessage("Failed to write back score").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].ContextMap()["person_id"])

	a, _ := store.Node("a")
	assert.Greater(t, a.RelevanceScore, 0.0)
}
