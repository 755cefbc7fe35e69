// Package expansion drives the bounded, degree-by-degree traversal of the
// graph outward from the seed person.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"talent-graph/backend/internal/fetch"
	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/metrics"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/config"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

var tracer = otel.Tracer("talent-graph/expansion")

// Controller states
const (
	StateSeed = "SEED"
	StateDone = "DONE"
)

// StateExpanding names the state that expands persons at degree n
func StateExpanding(n int) string {
	return fmt.Sprintf("EXPANDING_DEGREE_%d", n)
}

// Graph is the part of the graph store the controller reads and writes
type Graph interface {
	Node(id string) (state.Person, bool)
	NodesAtDegree(degree int) []state.Person
	AddEdge(a, b string) (bool, error)
	LowerDegree(id string, d int) ([]string, error)
	Update(id string, fn func(p *state.Person)) error
}

// Resolver maps raw records onto canonical persons
type Resolver interface {
	Resolve(rec state.Record, degree int) (string, bool, error)
}

// Excluder reports organizations that are never expanded
type Excluder interface {
	IsExcluded(org string) bool
}

// Controller owns the expansion state machine. It is the single writer of
// the graph while a run is in progress.
type Controller struct {
	graph    Graph
	resolver Resolver
	fetcher  fetch.Fetcher
	excluder Excluder
	cfg      config.EngineConfig
	logger   *zap.Logger

	state   string
	retries map[string]bool
}

// NewController creates an expansion controller
func NewController(g Graph, resolver Resolver, fetcher fetch.Fetcher, excluder Excluder, cfg config.EngineConfig) *Controller {
	return &Controller{
		graph:    g,
		resolver: resolver,
		fetcher:  fetcher,
		excluder: excluder,
		cfg:      cfg,
		logger:   logger.Named("expansion"),
		state:    StateSeed,
		retries:  make(map[string]bool),
	}
}

// State returns the current state machine state
func (c *Controller) State() string {
	return c.state
}

// AddRetries carries forward persons whose fetch failed in an earlier run.
// They stay on the list until a fetch for them succeeds.
func (c *Controller) AddRetries(ids []string) {
	for _, id := range ids {
		c.retries[id] = true
	}
}

// RetryIDs lists persons whose fetch failed, sorted
func (c *Controller) RetryIDs() []string {
	out := make([]string, 0, len(c.retries))
	for id := range c.retries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run expands from the seed until the maximum degree has been processed or
// no person qualifies. rescore is called after every completed round so the
// next round gates on current scores. A graph inconsistency aborts the run
// with the rounds completed so far; the graph stays valid.
func (c *Controller) Run(ctx context.Context, seedID string, rescore func()) ([]state.RoundReport, error) {
	seed, ok := c.graph.Node(seedID)
	if !ok {
		return nil, apperrors.NewGraphInconsistency("expansion", "seed "+seedID+" not in graph")
	}

	var reports []state.RoundReport

	c.state = StateSeed
	if !seed.Expanded {
		report, err := c.round(ctx, 0, []state.Person{seed}, nil)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
		rescore()
	}

	for degree := 1; degree < c.cfg.MaxDegree; degree++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		c.state = StateExpanding(degree)
		pending, skipped, qualified := c.selectCandidates(degree)
		if qualified == 0 {
			c.logger.Info("No person qualifies for expansion",
				zap.Int("degree", degree),
				zap.Float64("threshold", c.cfg.ThresholdFor(degree)))
			break
		}
		if len(pending) == 0 {
			continue
		}

		report, err := c.round(ctx, degree, pending, skipped)
		report.Qualified = qualified
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
		rescore()
	}

	c.state = StateDone
	return reports, nil
}

// selectCandidates returns the persons at degree that will be expanded this
// round, the ones cut by the cap, and how many scored above the threshold.
func (c *Controller) selectCandidates(degree int) ([]state.Person, []string, int) {
	threshold := c.cfg.ThresholdFor(degree)

	var qualified []state.Person
	for _, p := range c.graph.NodesAtDegree(degree) {
		if p.RelevanceScore <= threshold {
			continue
		}
		if c.excluder != nil && c.excluder.IsExcluded(p.Organization) {
			continue
		}
		qualified = append(qualified, p)
	}
	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].RelevanceScore != qualified[j].RelevanceScore {
			return qualified[i].RelevanceScore > qualified[j].RelevanceScore
		}
		return qualified[i].ID < qualified[j].ID
	})

	// The cap counts already expanded persons so a resumed run never
	// exceeds it for the degree.
	var pending []state.Person
	var skipped []string
	for i, p := range qualified {
		switch {
		case i >= c.cfg.ExpansionCap:
			skipped = append(skipped, p.ID)
		case !p.Expanded:
			pending = append(pending, p)
		}
	}
	return pending, skipped, len(qualified)
}

type fetchResult struct {
	records []state.Record
	err     error
}

// round fetches neighbours of every source concurrently, then merges the
// results sequentially in identifier order.
func (c *Controller) round(ctx context.Context, degree int, sources []state.Person, skipped []string) (state.RoundReport, error) {
	started := time.Now()
	report := state.RoundReport{
		State:     c.state,
		Degree:    degree,
		Qualified: len(sources),
		Skipped:   skipped,
		StartedAt: started.UTC(),
	}

	ctx, span := tracer.Start(ctx, "expansion.round", trace.WithAttributes(
		attribute.Int("degree", degree),
		attribute.Int("sources", len(sources)),
	))
	defer span.End()

	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	results := c.fetchAll(ctx, sources)

	for i, src := range sources {
		res := results[i]
		if res.err != nil {
			failure := apperrors.NewFetchFailure(src.ID, res.err)
			c.retries[src.ID] = true
			report.Failed = append(report.Failed, src.ID)
			metrics.FetchFailures.Inc()
			c.logger.Warn("Fetch failed, treating as no neighbours",
				zap.String("person_id", src.ID),
				zap.Int("degree", degree),
				zap.Bool("retry", true),
				zap.Error(failure))
			continue
		}

		newPersons, newEdges, err := c.merge(src.ID, degree, res.records)
		report.NewPersons += newPersons
		report.NewEdges += newEdges
		if err != nil {
			for _, rest := range sources[i:] {
				report.Failed = append(report.Failed, rest.ID)
			}
			report.Duration = time.Since(started).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("Expansion round aborted",
				zap.Int("degree", degree),
				zap.String("person_id", src.ID),
				zap.Error(err))
			return report, err
		}

		if err := c.graph.Update(src.ID, func(p *state.Person) { p.Expanded = true }); err != nil {
			return report, err
		}
		delete(c.retries, src.ID)
		report.Expanded = append(report.Expanded, src.ID)
	}

	report.Duration = time.Since(started).String()
	metrics.ExpansionRounds.WithLabelValues(strconv.Itoa(degree)).Inc()
	metrics.NodesExpanded.Add(float64(len(report.Expanded)))
	span.SetAttributes(
		attribute.Int("expanded", len(report.Expanded)),
		attribute.Int("failed", len(report.Failed)),
		attribute.Int("new_persons", report.NewPersons),
	)
	span.SetStatus(codes.Ok, "")

	c.logger.Info("Expansion round complete",
		zap.String("state", report.State),
		zap.Int("degree", degree),
		zap.Int("expanded", len(report.Expanded)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("new_persons", report.NewPersons),
		zap.Int("new_edges", report.NewEdges),
		zap.String("duration", report.Duration))
	return report, nil
}

// fetchAll runs the fetches with bounded concurrency. Every slot of the
// result is filled; failures never cancel sibling fetches.
func (c *Controller) fetchAll(ctx context.Context, sources []state.Person) []fetchResult {
	results := make([]fetchResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			records, err := c.fetchWithTimeout(gctx, src)
			metrics.FetchDuration.Observe(time.Since(start).Seconds())
			results[i] = fetchResult{records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetchWithTimeout returns when the fetcher does or the timeout fires,
// whichever is first, even if the fetcher ignores its context.
func (c *Controller) fetchWithTimeout(ctx context.Context, person state.Person) ([]state.Record, error) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		records, err := c.fetcher.FetchNeighbors(fctx, person)
		done <- fetchResult{records: records, err: err}
	}()

	select {
	case res := <-done:
		return res.records, res.err
	case <-fctx.Done():
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewContextTimeout("fetch_neighbors", c.cfg.FetchTimeout)
		}
		return nil, fctx.Err()
	}
}

// merge resolves every record returned for source and connects it. Only a
// graph inconsistency is returned; bad records are logged and skipped.
func (c *Controller) merge(sourceID string, degree int, records []state.Record) (int, int, error) {
	newPersons, newEdges := 0, 0
	for _, rec := range records {
		id, created, err := c.resolver.Resolve(rec, degree+1)
		if err != nil {
			if apperrors.IsErrorType(err, apperrors.ErrorTypeGraph) {
				return newPersons, newEdges, err
			}
			c.logger.Debug("Skipping unresolvable record",
				zap.String("source_id", sourceID),
				zap.String("name", rec.Name),
				zap.Error(err))
			continue
		}
		if created {
			newPersons++
		}

		added, err := c.graph.AddEdge(sourceID, id)
		switch {
		case errors.Is(err, graph.ErrSelfLoop):
			continue
		case err != nil:
			return newPersons, newEdges, err
		case added:
			newEdges++
		}

		if err := c.relax(sourceID, id); err != nil {
			return newPersons, newEdges, err
		}
	}
	return newPersons, newEdges, nil
}

// relax keeps both endpoints of a new edge within one hop of each other's
// degree. Degrees only ever decrease.
func (c *Controller) relax(a, b string) error {
	pa, okA := c.graph.Node(a)
	pb, okB := c.graph.Node(b)
	if !okA || !okB {
		return apperrors.NewGraphInconsistency("relax", "edge endpoint missing: "+a+"-"+b)
	}
	if _, err := c.graph.LowerDegree(b, pa.Degree+1); err != nil {
		return err
	}
	_, err := c.graph.LowerDegree(a, pb.Degree+1)
	return err
}
