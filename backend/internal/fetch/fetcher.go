// Package fetch adapts upstream sources of connection records to the
// engine's Fetcher contract.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

// Fetcher returns the raw records of a person's connections. Implementations
// must honour ctx cancellation; an error is never fatal to the caller.
type Fetcher interface {
	FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface
type FetcherFunc func(ctx context.Context, person state.Person) ([]state.Record, error)

// FetchNeighbors calls f
func (f FetcherFunc) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	return f(ctx, person)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases s and replaces runs of non-alphanumerics with '-'
func Slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// LookupKeys lists the file keys a person may be stored under, most
// specific first: external id, last profile URL segment, name slug, id.
func LookupKeys(person state.Person) []string {
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}
	add(Slug(person.ExternalID))
	if url := strings.TrimRight(person.ProfileURL, "/"); url != "" {
		add(Slug(url[strings.LastIndex(url, "/")+1:]))
	}
	add(Slug(person.Name))
	add(person.ID)
	return keys
}

// ============================================================================
// Fixture directory
// ============================================================================

// DirFetcher reads "<key>.json" files holding a JSON array of records.
// A person without a file has no known connections.
type DirFetcher struct {
	dir    string
	logger *zap.Logger
}

// NewDirFetcher creates a fetcher over a fixture directory
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{dir: dir, logger: logger.Named("fetch.dir")}
}

// FetchNeighbors implements Fetcher
func (f *DirFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := findFile(f.dir, LookupKeys(person), ".json")
	if !ok {
		f.logger.Debug("No fixture for person", zap.String("person_id", person.ID), zap.String("name", person.Name))
		return nil, nil
	}
	return ReadRecordsFile(path)
}

// ReadRecordsFile decodes a JSON array of records
func ReadRecordsFile(path string) ([]state.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var records []state.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return records, nil
}

func findFile(dir string, keys []string, ext string) (string, bool) {
	for _, k := range keys {
		path := filepath.Join(dir, k+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Chain asks each fetcher in turn and returns the first non-empty answer.
// An error from any fetcher stops the chain.
func Chain(fetchers ...Fetcher) Fetcher {
	return FetcherFunc(func(ctx context.Context, person state.Person) ([]state.Record, error) {
		for _, f := range fetchers {
			records, err := f.FetchNeighbors(ctx, person)
			if err != nil {
				return nil, err
			}
			if len(records) > 0 {
				return records, nil
			}
		}
		return nil, nil
	})
}
