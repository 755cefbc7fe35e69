package engine

import (
	"sort"
	"strings"

	"talent-graph/backend/internal/state"
)

const topOrganizationsInReport = 20

// BuildReport aggregates the network around seedID: persons per degree, the
// most common organizations and target skill counts per category.
func BuildReport(persons []state.Person, seedID string, categories map[string][]string) state.NetworkReport {
	report := state.NetworkReport{
		ByDegree:          make(map[int]int),
		SkillDistribution: make(map[string]map[string]int, len(categories)),
	}

	orgs := make(map[string]int)
	lookup := make(map[string]map[string]string, len(categories))
	for category, skills := range categories {
		report.SkillDistribution[category] = make(map[string]int)
		lookup[category] = make(map[string]string, len(skills))
		for _, s := range skills {
			lookup[category][strings.ToLower(s)] = s
		}
	}

	for _, p := range persons {
		if p.ID == seedID {
			continue
		}
		report.TotalAnalyzed++
		report.ByDegree[p.Degree]++
		if p.Organization != "" {
			orgs[p.Organization]++
		}
		for category, skills := range lookup {
			for _, s := range p.Skills {
				if canonical, ok := skills[strings.ToLower(s)]; ok {
					report.SkillDistribution[category][canonical]++
				}
			}
		}
	}

	for org, n := range orgs {
		report.TopOrganizations = append(report.TopOrganizations, state.OrganizationCount{Organization: org, Count: n})
	}
	sort.Slice(report.TopOrganizations, func(i, j int) bool {
		a, b := report.TopOrganizations[i], report.TopOrganizations[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Organization < b.Organization
	})
	if len(report.TopOrganizations) > topOrganizationsInReport {
		report.TopOrganizations = report.TopOrganizations[:topOrganizationsInReport]
	}
	return report
}
