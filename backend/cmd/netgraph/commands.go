package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/engine"
	"talent-graph/backend/internal/fetch"
	"talent-graph/backend/internal/graph"
	"talent-graph/backend/internal/identity"
	"talent-graph/backend/internal/recommend"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/internal/storage/kv"
	"talent-graph/backend/pkg/config"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

// options shared by every command
type options struct {
	env         string
	seedPath    string
	storePath   string
	profilePath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "netgraph",
		Short: "Expand a professional network around a seed and rank who to contact",
		Long: `netgraph resolves the connections around a seed person into one
deduplicated graph, scores everyone against a target profile and prints
an outreach feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(opts.env)
		},
	}

	root.PersistentFlags().StringVar(&opts.env, "env", "development", "logging mode (development or production)")
	root.PersistentFlags().StringVar(&opts.seedPath, "seed", "", "path to the seed person JSON record")
	root.PersistentFlags().StringVar(&opts.storePath, "store", "", "badger directory holding graph snapshots")
	root.PersistentFlags().StringVar(&opts.profilePath, "profile", "", "YAML target profile overlaid on the defaults")

	root.AddCommand(newRunCmd(opts), newImportCmd(opts), newShowCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	var (
		fixtures string
		kinds    []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run expansion from the seed and print the recommendation feed as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(opts.seedPath)
			if err != nil {
				return err
			}
			cfg, err := engineConfig(opts.profilePath)
			if err != nil {
				return err
			}
			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}

			fetcher := fetch.NewBreakerFetcher(
				fetch.Chain(fetch.NewDirFetcher(fixtures), fetch.NewHTMLExportFetcher(fixtures, "html_export")),
				fetch.DefaultBreakerConfig("fetch_neighbors"),
			)

			var snapshots engine.SnapshotStore
			if opts.storePath != "" {
				store, err := kv.Open(kv.DefaultConfig(opts.storePath))
				if err != nil {
					return err
				}
				defer store.Close()
				snapshots = store
			}

			eng, err := engine.New(cfg, fetcher, snapshots)
			if err != nil {
				return err
			}
			res, runErr := eng.Run(cmd.Context(), seed)
			if res == nil {
				return runErr
			}

			out := feed{
				RunID:           res.RunID,
				SeedID:          res.SeedID,
				Resumed:         res.Resumed,
				Rounds:          res.Rounds,
				Recommendations: recommend.Filter(res.Recommendations, filter...),
				Communities:     res.Communities,
				Report:          res.Report,
				RetryIDs:        res.RetryIDs,
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&fixtures, "fixtures", ".", "directory of neighbor fixtures (<slug>.json or <slug>.html)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only print these recommendation kinds")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import [export file...]",
		Short: "Resolve JSON or HTML connection exports into the seed's stored graph as first-degree connections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(opts.seedPath)
			if err != nil {
				return err
			}
			kvStore, err := openStore(opts.storePath)
			if err != nil {
				return err
			}
			defer kvStore.Close()

			n, err := importExports(cmd.Context(), kvStore, seed, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records into %s\n", n, engine.SnapshotKey(seed))
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the stored graph for the seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(opts.seedPath)
			if err != nil {
				return err
			}
			kvStore, err := openStore(opts.storePath)
			if err != nil {
				return err
			}
			defer kvStore.Close()

			snap, err := kvStore.Load(cmd.Context(), engine.SnapshotKey(seed))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

type feed struct {
	RunID           string                 `json:"run_id"`
	SeedID          string                 `json:"seed_id"`
	Resumed         bool                   `json:"resumed"`
	Rounds          []state.RoundReport    `json:"rounds"`
	Recommendations []state.Recommendation `json:"recommendations"`
	Communities     []state.Community      `json:"communities"`
	Report          state.NetworkReport    `json:"report"`
	RetryIDs        []string               `json:"retry_ids,omitempty"`
}

// importExports merges every record in files into the seed's snapshot
func importExports(ctx context.Context, snapshots *kv.SnapshotStore, seed state.Record, files []string) (int, error) {
	if seed.Source == "" {
		seed.Source = constants.SeedSource
	}
	key := engine.SnapshotKey(seed)

	store := graph.NewStore()
	var retries []string
	snap, err := snapshots.Load(ctx, key)
	switch {
	case err == nil:
		if store, err = graph.FromSnapshot(snap); err != nil {
			return 0, err
		}
		retries = snap.RetryIDs
	case !apperrors.IsSnapshotNotFound(err):
		return 0, err
	}

	log := logger.Named("import")
	resolver := identity.NewResolver(store, log)
	resolver.Rebuild(store.Nodes())
	seedID, _, err := resolver.Resolve(seed, 0)
	if err != nil {
		return 0, err
	}
	if _, err := store.LowerDegree(seedID, 0); err != nil {
		return 0, err
	}

	imported := 0
	for _, path := range files {
		records, err := readExport(path)
		if err != nil {
			return imported, err
		}
		for _, rec := range records {
			if err := rec.Validate(); err != nil {
				log.Warn("Skipping invalid record", zap.String("file", path), zap.Error(err))
				continue
			}
			id, _, err := resolver.Resolve(rec, 1)
			if err != nil {
				return imported, err
			}
			if id == seedID {
				continue
			}
			if _, err := store.AddEdge(seedID, id); err != nil {
				return imported, err
			}
			if _, err := store.LowerDegree(id, 1); err != nil {
				return imported, err
			}
			imported++
		}
	}

	if err := snapshots.Save(ctx, key, store.Snapshot(seedID, retries)); err != nil {
		return imported, err
	}
	log.Info("Import complete",
		zap.String("key", key),
		zap.Int("records", imported),
		zap.Int("persons", store.NodeCount()),
		zap.Int("near_misses", len(resolver.NearMisses())))
	return imported, nil
}

func readExport(path string) ([]state.Record, error) {
	if !strings.EqualFold(filepath.Ext(path), ".html") {
		return fetch.ReadRecordsFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return fetch.ParseHTMLExport(f, "html_export")
}

func printSummary(w io.Writer, snap *state.Snapshot) {
	byDegree := make(map[int]int)
	for _, p := range snap.Persons {
		byDegree[p.Degree]++
	}
	degrees := make([]int, 0, len(byDegree))
	for d := range byDegree {
		degrees = append(degrees, d)
	}
	sort.Ints(degrees)

	fmt.Fprintf(w, "Seed:          %s\n", snap.SeedID)
	fmt.Fprintf(w, "Saved at:      %s\n", snap.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Persons:       %d\n", len(snap.Persons))
	fmt.Fprintf(w, "Relationships: %d\n", len(snap.Edges))
	for _, d := range degrees {
		fmt.Fprintf(w, "  degree %d:    %d\n", d, byDegree[d])
	}
	fmt.Fprintf(w, "Pending retry: %d\n", len(snap.RetryIDs))
}

func readSeed(path string) (state.Record, error) {
	var seed state.Record
	if path == "" {
		return seed, apperrors.NewConfigInvalid("seed", "--seed is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return seed, apperrors.NewConfigInvalid("seed", err.Error())
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return seed, apperrors.NewConfigInvalid("seed", fmt.Sprintf("invalid json: %v", err))
	}
	if err := seed.Validate(); err != nil {
		return seed, apperrors.NewConfigInvalid("seed", err.Error())
	}
	return seed, nil
}

func engineConfig(profilePath string) (config.EngineConfig, error) {
	cfg := config.DefaultEngineConfig()
	if profilePath != "" {
		if err := config.LoadTargetProfile(profilePath, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func openStore(path string) (*kv.SnapshotStore, error) {
	if path == "" {
		return nil, apperrors.NewConfigInvalid("store", "--store is required")
	}
	return kv.Open(kv.DefaultConfig(path))
}

func parseKinds(raw []string) ([]state.RecommendationKind, error) {
	kinds := make([]state.RecommendationKind, 0, len(raw))
	for _, r := range raw {
		k, err := state.ParseRecommendationKind(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
