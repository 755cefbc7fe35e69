package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

// Repository persists graph snapshots in Neo4j. Each snapshot is a
// (:Snapshot {key}) node owning its (:Person) nodes; relationships between
// persons are stored as [:CONNECTED_TO] edges.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("neo4j"),
	}
}

// NewDriver connects to Neo4j and verifies connectivity
func NewDriver(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewStoreFailed("neo4j_connect", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewStoreFailed("neo4j_connect", err)
	}
	return driver, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Save replaces the snapshot stored under key in a single transaction
func (r *Repository) Save(ctx context.Context, key string, snap *state.Snapshot) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	persons := make([]map[string]any, 0, len(snap.Persons))
	for _, p := range snap.Persons {
		persons = append(persons, personToProps(p))
	}
	edges := make([]map[string]any, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, map[string]any{"a": e.A, "b": e.B})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (s:Snapshot {key: $key})
			OPTIONAL MATCH (s)-[:CONTAINS]->(p:Person)
			DETACH DELETE s, p
		`, map[string]any{"key": key}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			CREATE (s:Snapshot {
				key: $key,
				version: $version,
				seed_id: $seedID,
				saved_at: $savedAt,
				retry_ids: $retryIDs
			})
		`, map[string]any{
			"key":      key,
			"version":  snap.Version,
			"seedID":   snap.SeedID,
			"savedAt":  snap.SavedAt.UTC().Format(time.RFC3339Nano),
			"retryIDs": snap.RetryIDs,
		}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			MATCH (s:Snapshot {key: $key})
			UNWIND $persons AS person
			CREATE (s)-[:CONTAINS]->(p:Person)
			SET p = person
		`, map[string]any{"key": key, "persons": persons}); err != nil {
			return nil, err
		}

		_, err := tx.Run(ctx, `
			MATCH (s:Snapshot {key: $key})
			UNWIND $edges AS edge
			MATCH (s)-[:CONTAINS]->(a:Person {id: edge.a})
			MATCH (s)-[:CONTAINS]->(b:Person {id: edge.b})
			MERGE (a)-[:CONNECTED_TO]->(b)
		`, map[string]any{"key": key, "edges": edges})
		return nil, err
	})
	if err != nil {
		return apperrors.NewStoreFailed("neo4j_save", err)
	}

	r.logger.Info("Snapshot saved",
		zap.String("key", key),
		zap.Int("persons", len(snap.Persons)),
		zap.Int("edges", len(snap.Edges)),
	)
	return nil
}

// Load reads the snapshot stored under key
func (r *Repository) Load(ctx context.Context, key string) (*state.Snapshot, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Snapshot {key: $key})
			OPTIONAL MATCH (s)-[:CONTAINS]->(p:Person)
			RETURN s.version AS version,
			       s.seed_id AS seed_id,
			       s.saved_at AS saved_at,
			       s.retry_ids AS retry_ids,
			       collect(properties(p)) AS persons
		`, map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, apperrors.NewSnapshotNotFound(key)
		}
		record := result.Record()

		snap := &state.Snapshot{
			Version:  getIntFromRecord(record, "version"),
			SeedID:   getStringFromRecord(record, "seed_id"),
			RetryIDs: getStringSliceFromRecord(record, "retry_ids"),
		}
		if t, err := time.Parse(time.RFC3339Nano, getStringFromRecord(record, "saved_at")); err == nil {
			snap.SavedAt = t
		}
		raw, _ := record.Get("persons")
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				if props, ok := item.(map[string]any); ok {
					snap.Persons = append(snap.Persons, personFromProps(props))
				}
			}
		}

		edgeResult, err := tx.Run(ctx, `
			MATCH (s:Snapshot {key: $key})-[:CONTAINS]->(a:Person)-[:CONNECTED_TO]->(b:Person)<-[:CONTAINS]-(s)
			RETURN a.id AS a, b.id AS b
		`, map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		for edgeResult.Next(ctx) {
			rec := edgeResult.Record()
			snap.Edges = append(snap.Edges, state.NewRelationship(
				getStringFromRecord(rec, "a"), getStringFromRecord(rec, "b")))
		}
		return snap, edgeResult.Err()
	})
	if err != nil {
		if apperrors.IsSnapshotNotFound(err) {
			return nil, err
		}
		return nil, apperrors.NewStoreFailed("neo4j_load", err)
	}
	return out.(*state.Snapshot), nil
}

// Delete removes the snapshot stored under key. Deleting a missing key is
// not an error.
func (r *Repository) Delete(ctx context.Context, key string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MATCH (s:Snapshot {key: $key})
		OPTIONAL MATCH (s)-[:CONTAINS]->(p:Person)
		DETACH DELETE s, p
	`, map[string]any{"key": key})
	if err != nil {
		return apperrors.NewStoreFailed("neo4j_delete", fmt.Errorf("failed to delete snapshot %s: %w", key, err))
	}
	return nil
}

// personToProps flattens a person into Neo4j property values. Timestamps
// are stored as RFC 3339 strings.
func personToProps(p state.Person) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"headline":        p.Headline,
		"organization":    p.Organization,
		"location":        p.Location,
		"email":           p.Email,
		"profile_url":     p.ProfileURL,
		"external_id":     p.ExternalID,
		"handles":         nonNil(p.Handles),
		"skills":          nonNil(p.Skills),
		"degree":          int64(p.Degree),
		"mutual_count":    int64(p.MutualCount),
		"reported_mutual": int64(p.ReportedMutual),
		"relevance_score": p.RelevanceScore,
		"centrality":      p.Centrality,
		"tags":            nonNil(p.Tags),
		"sources":         nonNil(p.Sources),
		"expanded":        p.Expanded,
		"created_at":      p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func personFromProps(m map[string]any) state.Person {
	return state.Person{
		ID:             getStringFromMap(m, "id", ""),
		Name:           getStringFromMap(m, "name", ""),
		Headline:       getStringFromMap(m, "headline", ""),
		Organization:   getStringFromMap(m, "organization", ""),
		Location:       getStringFromMap(m, "location", ""),
		Email:          getStringFromMap(m, "email", ""),
		ProfileURL:     getStringFromMap(m, "profile_url", ""),
		ExternalID:     getStringFromMap(m, "external_id", ""),
		Handles:        getStringSliceFromMap(m, "handles"),
		Skills:         getStringSliceFromMap(m, "skills"),
		Degree:         getIntFromMap(m, "degree"),
		MutualCount:    getIntFromMap(m, "mutual_count"),
		ReportedMutual: getIntFromMap(m, "reported_mutual"),
		RelevanceScore: getFloat64FromMap(m, "relevance_score", 0),
		Centrality:     getFloat64FromMap(m, "centrality", 0),
		Tags:           getStringSliceFromMap(m, "tags"),
		Sources:        getStringSliceFromMap(m, "sources"),
		Expanded:       getBoolFromMap(m, "expanded"),
		CreatedAt:      getTimeFromMap(m, "created_at"),
		UpdatedAt:      getTimeFromMap(m, "updated_at"),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
