package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "talent-graph/backend/pkg/errors"
)

func validConfig() *Config {
	return &Config{
		Env:             "development",
		SnapshotBackend: "badger",
		BadgerPath:      "data/snapshots",
		Engine:          DefaultEngineConfig(),
	}
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.SnapshotBackend = "sqlite" }, "SNAPSHOT_BACKEND"},
		{"badger without path", func(c *Config) { c.BadgerPath = "" }, "BADGER_PATH"},
		{"neo4j without uri", func(c *Config) { c.SnapshotBackend = "neo4j"; c.Neo4jUser = "neo4j" }, "NEO4J_URI"},
		{"threshold above one", func(c *Config) { c.Engine.ExpansionThreshold = 1.5 }, "expansionthreshold"},
		{"negative cap", func(c *Config) { c.Engine.ExpansionCap = -1 }, "expansioncap"},
		{"zero max degree", func(c *Config) { c.Engine.MaxDegree = 0 }, "maxdegree"},
		{"zero timeout", func(c *Config) { c.Engine.FetchTimeout = 0 }, "fetchtimeout"},
		{"unknown algorithm", func(c *Config) { c.Engine.CommunityAlgorithm = "leiden" }, "communityalgorithm"},
		{"no categories", func(c *Config) { c.Engine.SkillCategories = nil }, "skillcategories"},
		{"empty category", func(c *Config) { c.Engine.SkillCategories = map[string][]string{"cloud": {}} }, "skill_categories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))

			var cerr *apperrors.ErrConfigInvalid
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestThresholdFor(t *testing.T) {
	e := DefaultEngineConfig()
	e.FirstHopThreshold = 0.1
	e.ExpansionThreshold = 0.7

	assert.Equal(t, 0.1, e.ThresholdFor(0))
	assert.Equal(t, 0.1, e.ThresholdFor(1))
	assert.Equal(t, 0.7, e.ThresholdFor(2))
	assert.Equal(t, 0.7, e.ThresholdFor(5))
}

func TestLoadTargetProfile_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target_organizations: [Acme, Globex]
skill_categories:
  data: [SQL, Spark]
expansion_cap: 10
fetch_timeout: 3s
`), 0o644))

	e := DefaultEngineConfig()
	require.NoError(t, LoadTargetProfile(path, &e))

	assert.Equal(t, []string{"Acme", "Globex"}, e.TargetOrganizations)
	assert.Equal(t, map[string][]string{"data": {"SQL", "Spark"}}, e.SkillCategories)
	assert.Equal(t, 10, e.ExpansionCap)
	assert.Equal(t, 3*time.Second, e.FetchTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultEngineConfig().MaxDegree, e.MaxDegree)
	require.NoError(t, e.Validate())

	profile := e.TargetProfile()
	profile.Organizations[0] = "changed"
	assert.Equal(t, "Acme", e.TargetOrganizations[0])
}

func TestLoadTargetProfile_ReplacesCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("skill_categories:\n  backend: [Go]\nfirst_hop_threshold: 0\n"), 0o644))

	e := DefaultEngineConfig()
	e.FirstHopThreshold = 0.4
	require.NoError(t, LoadTargetProfile(path, &e))

	assert.Len(t, e.SkillCategories, 1)
	assert.Equal(t, []string{"Go"}, e.SkillCategories["backend"])
	assert.Equal(t, 0.0, e.FirstHopThreshold)
	assert.Equal(t, DefaultEngineConfig().TargetOrganizations, e.TargetOrganizations)
	assert.Len(t, e.TargetProfile().SkillCategories, 1)
}

func TestLoadTargetProfile_Errors(t *testing.T) {
	e := DefaultEngineConfig()
	err := LoadTargetProfile(filepath.Join(t.TempDir(), "missing.yaml"), &e)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("expansion_cap: [1, 2"), 0o644))
	err = LoadTargetProfile(path, &e)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "badger")
	t.Setenv("BADGER_PATH", t.TempDir())
	t.Setenv("EXPANSION_CAP", "7")
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("TARGET_ORGANIZATIONS", "Acme, Globex,")
	t.Setenv("COMMUNITY_ALGORITHM", "components")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.ExpansionCap)
	assert.Equal(t, 2*time.Second, cfg.Engine.FetchTimeout)
	assert.Equal(t, []string{"Acme", "Globex"}, cfg.Engine.TargetOrganizations)
	assert.Equal(t, "components", cfg.Engine.CommunityAlgorithm)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "sqlite")
	_, err := Load()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
}
