// Package community partitions the person graph into labelled clusters.
package community

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

var tracer = otel.Tracer("talent-graph/community")

// Defaults for the modularity optimisation
const (
	DefaultMaxIterations        = 100
	DefaultConvergenceThreshold = 1e-6
	DefaultResolution           = 1.0

	topOrganizationsLimit = 5
	topSkillsLimit        = 10
	dominantSkillsLimit   = 3

	// TagPrefix marks the community a person belongs to
	TagPrefix = "community:"
)

// Graph is the read/write view of the graph store the detector needs
type Graph interface {
	Nodes() []state.Person
	Neighbors(id string) []string
	EdgeCount() int
	Update(id string, fn func(p *state.Person)) error
}

// Options configures detection
type Options struct {
	Algorithm            string
	MaxIterations        int
	ConvergenceThreshold float64
	Resolution           float64
}

// DefaultOptions returns Louvain with the default parameters
func DefaultOptions() Options {
	return Options{
		Algorithm:            constants.CommunityAlgorithmLouvain,
		MaxIterations:        DefaultMaxIterations,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		Resolution:           DefaultResolution,
	}
}

// Detector computes a fresh partition on every call; nothing is maintained
// incrementally between calls.
type Detector struct {
	opts   Options
	logger *zap.Logger
}

// NewDetector creates a detector, filling unset options with defaults
func NewDetector(opts Options) *Detector {
	def := DefaultOptions()
	if opts.Algorithm == "" {
		opts.Algorithm = def.Algorithm
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.ConvergenceThreshold <= 0 {
		opts.ConvergenceThreshold = def.ConvergenceThreshold
	}
	if opts.Resolution <= 0 {
		opts.Resolution = def.Resolution
	}
	return &Detector{opts: opts, logger: logger.Named("community")}
}

// Detect partitions g, labels every block and tags members. Every person
// ends up in exactly one community.
func (d *Detector) Detect(ctx context.Context, g Graph) ([]state.Community, error) {
	persons := g.Nodes()
	ctx, span := tracer.Start(ctx, "community.Detect", trace.WithAttributes(
		attribute.Int("node_count", len(persons)),
		attribute.Int("edge_count", g.EdgeCount()),
		attribute.String("algorithm", d.opts.Algorithm),
	))
	defer span.End()

	if len(persons) == 0 {
		return nil, nil
	}

	ids := make([]string, len(persons))
	byID := make(map[string]state.Person, len(persons))
	neighbors := make(map[string][]string, len(persons))
	for i, p := range persons {
		ids[i] = p.ID
		byID[p.ID] = p
		neighbors[p.ID] = g.Neighbors(p.ID)
	}

	var (
		assignment map[string]int
		err        error
		algorithm  = d.opts.Algorithm
	)
	if algorithm == constants.CommunityAlgorithmLouvain && g.EdgeCount() > 0 {
		assignment, err = d.louvain(ctx, ids, neighbors, g.EdgeCount())
		if err != nil {
			return nil, err
		}
	} else {
		algorithm = constants.CommunityAlgorithmComponents
		assignment = connectedComponents(ids, neighbors)
	}

	communities := buildCommunities(assignment, ids, byID)
	for _, c := range communities {
		tag := TagPrefix + c.Label
		for _, member := range c.Members {
			if err := g.Update(member, func(p *state.Person) {
				p.RemoveTagsWithPrefix(TagPrefix)
				p.AddTag(tag)
			}); err != nil {
				return nil, err
			}
		}
	}

	metrics.CommunitiesDetected.Observe(float64(len(communities)))
	span.SetAttributes(
		attribute.Int("communities_found", len(communities)),
		attribute.String("algorithm_used", algorithm),
	)
	d.logger.Info("Communities detected",
		zap.String("algorithm", algorithm),
		zap.Int("persons", len(ids)),
		zap.Int("communities", len(communities)))
	return communities, nil
}

// ============================================================================
// Louvain local moves with connectivity refinement
// ============================================================================

func (d *Detector) louvain(ctx context.Context, ids []string, neighbors map[string][]string, edgeCount int) (map[string]int, error) {
	m := float64(edgeCount)

	degrees := make(map[string]float64, len(ids))
	nodeToComm := make(map[string]int, len(ids))
	commDegreeSum := make(map[int]float64, len(ids))
	for i, id := range ids {
		degrees[id] = float64(len(neighbors[id]))
		nodeToComm[id] = i
		commDegreeSum[i] = degrees[id]
	}

	previousQ := -1.0
	for iteration := 0; iteration < d.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		improved := false
		for _, id := range ids {
			current := nodeToComm[id]
			ki := degrees[id]

			links := make(map[int]float64)
			for _, n := range neighbors[id] {
				links[nodeToComm[n]]++
			}
			candidates := make([]int, 0, len(links))
			for comm := range links {
				if comm != current {
					candidates = append(candidates, comm)
				}
			}
			sort.Ints(candidates)

			best, bestGain := current, 0.0
			for _, comm := range candidates {
				gain := (links[comm]-links[current])/m -
					d.opts.Resolution*ki*(commDegreeSum[comm]-(commDegreeSum[current]-ki))/(2*m*m)
				if gain > bestGain {
					best, bestGain = comm, gain
				}
			}

			if best != current {
				commDegreeSum[current] -= ki
				commDegreeSum[best] += ki
				nodeToComm[id] = best
				improved = true
			}
		}

		if improved {
			nodeToComm = refine(nodeToComm, ids, neighbors)
			commDegreeSum = make(map[int]float64)
			for _, id := range ids {
				commDegreeSum[nodeToComm[id]] += degrees[id]
			}
		}

		q := modularity(nodeToComm, ids, neighbors, commDegreeSum, m, d.opts.Resolution)
		if !improved || (previousQ >= 0 && q-previousQ < d.opts.ConvergenceThreshold) {
			d.logger.Debug("Louvain converged",
				zap.Int("iterations", iteration+1),
				zap.Float64("modularity", q))
			break
		}
		previousQ = q
	}
	return nodeToComm, nil
}

// refine splits every community into its connected components and
// renumbers them in order of their smallest member.
func refine(nodeToComm map[string]int, ids []string, neighbors map[string][]string) map[string]int {
	refined := make(map[string]int, len(ids))
	next := 0
	for _, start := range ids {
		if _, done := refined[start]; done {
			continue
		}
		comm := nodeToComm[start]
		refined[start] = next
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range neighbors[cur] {
				if _, done := refined[n]; done || nodeToComm[n] != comm {
					continue
				}
				refined[n] = next
				queue = append(queue, n)
			}
		}
		next++
	}
	return refined
}

// modularity is Q = sum over communities of internal/m - γ(Σdeg/2m)²
func modularity(nodeToComm map[string]int, ids []string, neighbors map[string][]string, commDegreeSum map[int]float64, m, resolution float64) float64 {
	internal := make(map[int]float64)
	for _, id := range ids {
		for _, n := range neighbors[id] {
			if id < n && nodeToComm[id] == nodeToComm[n] {
				internal[nodeToComm[id]]++
			}
		}
	}
	q := 0.0
	for comm, sum := range commDegreeSum {
		q += internal[comm]/m - resolution*(sum/(2*m))*(sum/(2*m))
	}
	return q
}

// connectedComponents is the fallback partition
func connectedComponents(ids []string, neighbors map[string][]string) map[string]int {
	all := make(map[string]int, len(ids))
	for _, id := range ids {
		all[id] = 0
	}
	return refine(all, ids, neighbors)
}

// ============================================================================
// Labelling
// ============================================================================

func buildCommunities(assignment map[string]int, ids []string, byID map[string]state.Person) []state.Community {
	grouped := make(map[int][]string)
	for _, id := range ids {
		grouped[assignment[id]] = append(grouped[assignment[id]], id)
	}

	blocks := make([][]string, 0, len(grouped))
	for _, members := range grouped {
		sort.Strings(members)
		blocks = append(blocks, members)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if len(blocks[i]) != len(blocks[j]) {
			return len(blocks[i]) > len(blocks[j])
		}
		return blocks[i][0] < blocks[j][0]
	})

	out := make([]state.Community, 0, len(blocks))
	used := make(map[string]bool, len(blocks))
	for i, members := range blocks {
		orgs := make(map[string]int)
		skills := make(map[string]int)
		for _, id := range members {
			p := byID[id]
			if p.Organization != "" {
				orgs[p.Organization]++
			}
			for _, s := range p.Skills {
				skills[s]++
			}
		}

		c := state.Community{
			ID:               i,
			Members:          members,
			Size:             len(members),
			TopOrganizations: topCounts(orgs, topOrganizationsLimit),
			TopSkills:        topCounts(skills, topSkillsLimit),
		}
		rankedOrgs := ranked(orgs)
		rankedSkills := ranked(skills)
		if len(rankedOrgs) > 0 {
			c.DominantOrg = rankedOrgs[0]
		}
		if len(rankedSkills) > dominantSkillsLimit {
			rankedSkills = rankedSkills[:dominantSkillsLimit]
		}
		c.DominantSkills = rankedSkills
		// Labels double as member tags, so a repeated label gets the
		// community index appended.
		label := Label(orgs, skills, i)
		if used[label] {
			label = fmt.Sprintf("%s_%d", label, i)
		}
		used[label] = true
		c.Label = label
		out = append(out, c)
	}
	return out
}

// Label names a community after its most frequent organization, else its
// most frequent skill, else its index. Ties go to the lexicographically
// smallest name.
func Label(orgs, skills map[string]int, index int) string {
	if r := ranked(orgs); len(r) > 0 {
		return r[0] + "_cluster"
	}
	if r := ranked(skills); len(r) > 0 {
		return r[0] + "_cluster"
	}
	return fmt.Sprintf("community_%d", index)
}

// ranked orders keys by count descending, then name ascending
func ranked(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for k := range counts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func topCounts(counts map[string]int, limit int) map[string]int {
	r := ranked(counts)
	if len(r) > limit {
		r = r[:limit]
	}
	out := make(map[string]int, len(r))
	for _, k := range r {
		out[k] = counts[k]
	}
	return out
}
