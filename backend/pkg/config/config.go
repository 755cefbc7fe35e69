package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"talent-graph/backend/internal/constants"
	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Snapshot persistence
	SnapshotBackend string // badger or neo4j
	BadgerPath      string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Redis fetch cache (optional)
	RedisAddr     string
	RedisCacheTTL time.Duration

	// Fetch collaborator fixtures
	FixtureDir string

	Engine EngineConfig
}

// EngineConfig is the run-time configuration surface of the engine. It is
// supplied at run start and never mutated mid-run.
type EngineConfig struct {
	TargetOrganizations   []string            `yaml:"target_organizations"`
	SkillCategories       map[string][]string `yaml:"skill_categories" validate:"required,min=1"`
	ExcludedOrganizations []string            `yaml:"excluded_organizations"`

	FirstHopThreshold  float64       `yaml:"first_hop_threshold" validate:"gte=0,lte=1"`
	ExpansionThreshold float64       `yaml:"expansion_threshold" validate:"gte=0,lte=1"`
	ExpansionCap       int           `yaml:"expansion_cap" validate:"gte=0"`
	MaxDegree          int           `yaml:"max_degree" validate:"gte=1"`
	Concurrency        int           `yaml:"concurrency" validate:"gte=1"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	CommunityAlgorithm string        `yaml:"community_algorithm" validate:"oneof=louvain components"`
}

var validate = validator.New()

// DefaultEngineConfig returns the engine defaults with the built-in target profile
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TargetOrganizations:   append([]string(nil), constants.DefaultTargetOrganizations...),
		SkillCategories:       copyCategories(constants.DefaultSkillCategories),
		ExcludedOrganizations: append([]string(nil), constants.DefaultExcludedOrganizations...),
		FirstHopThreshold:     constants.DefaultFirstHopThreshold,
		ExpansionThreshold:    constants.DefaultExpansionThreshold,
		ExpansionCap:          constants.DefaultExpansionCap,
		MaxDegree:             constants.DefaultMaxDegree,
		Concurrency:           constants.DefaultConcurrency,
		FetchTimeout:          constants.DefaultFetchTimeout,
		CommunityAlgorithm:    constants.CommunityAlgorithmLouvain,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	engine := DefaultEngineConfig()
	if path := getEnv("TARGET_PROFILE_PATH", ""); path != "" {
		if err := LoadTargetProfile(path, &engine); err != nil {
			return nil, err
		}
	}
	engine.FirstHopThreshold = getEnvFloat("FIRST_HOP_THRESHOLD", engine.FirstHopThreshold)
	engine.ExpansionThreshold = getEnvFloat("EXPANSION_THRESHOLD", engine.ExpansionThreshold)
	engine.ExpansionCap = getEnvInt("EXPANSION_CAP", engine.ExpansionCap)
	engine.MaxDegree = getEnvInt("MAX_DEGREE", engine.MaxDegree)
	engine.Concurrency = getEnvInt("FETCH_CONCURRENCY", engine.Concurrency)
	engine.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", engine.FetchTimeout)
	engine.CommunityAlgorithm = getEnv("COMMUNITY_ALGORITHM", engine.CommunityAlgorithm)
	if orgs := getEnvList("TARGET_ORGANIZATIONS"); len(orgs) > 0 {
		engine.TargetOrganizations = orgs
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		SnapshotBackend: getEnv("SNAPSHOT_BACKEND", "badger"),
		BadgerPath:      getEnv("BADGER_PATH", "data/snapshots"),
		Neo4jURI:        getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:       getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:   getEnv("NEO4J_PASSWORD", "password"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisCacheTTL:   getEnvDuration("REDIS_CACHE_TTL", 24*time.Hour),
		FixtureDir:      getEnv("FIXTURE_DIR", "fixtures"),
		Engine:          engine,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// profileFile mirrors EngineConfig with pointers so absent keys can be told
// apart from zero values.
type profileFile struct {
	TargetOrganizations   *[]string            `yaml:"target_organizations"`
	SkillCategories       *map[string][]string `yaml:"skill_categories"`
	ExcludedOrganizations *[]string            `yaml:"excluded_organizations"`
	FirstHopThreshold     *float64             `yaml:"first_hop_threshold"`
	ExpansionThreshold    *float64             `yaml:"expansion_threshold"`
	ExpansionCap          *int                 `yaml:"expansion_cap"`
	MaxDegree             *int                 `yaml:"max_degree"`
	Concurrency           *int                 `yaml:"concurrency"`
	FetchTimeout          *time.Duration       `yaml:"fetch_timeout"`
	CommunityAlgorithm    *string              `yaml:"community_algorithm"`
}

// LoadTargetProfile overlays a YAML target profile onto the engine config.
// Every key present in the file replaces the current value wholesale; absent
// keys keep their current values.
func LoadTargetProfile(path string, engine *EngineConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewConfigInvalid("target_profile_path", err.Error())
	}
	var f profileFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return apperrors.NewConfigInvalid("target_profile_path", fmt.Sprintf("invalid yaml: %v", err))
	}

	if f.TargetOrganizations != nil {
		engine.TargetOrganizations = append([]string(nil), (*f.TargetOrganizations)...)
	}
	if f.SkillCategories != nil {
		engine.SkillCategories = copyCategories(*f.SkillCategories)
	}
	if f.ExcludedOrganizations != nil {
		engine.ExcludedOrganizations = append([]string(nil), (*f.ExcludedOrganizations)...)
	}
	if f.FirstHopThreshold != nil {
		engine.FirstHopThreshold = *f.FirstHopThreshold
	}
	if f.ExpansionThreshold != nil {
		engine.ExpansionThreshold = *f.ExpansionThreshold
	}
	if f.ExpansionCap != nil {
		engine.ExpansionCap = *f.ExpansionCap
	}
	if f.MaxDegree != nil {
		engine.MaxDegree = *f.MaxDegree
	}
	if f.Concurrency != nil {
		engine.Concurrency = *f.Concurrency
	}
	if f.FetchTimeout != nil {
		engine.FetchTimeout = *f.FetchTimeout
	}
	if f.CommunityAlgorithm != nil {
		engine.CommunityAlgorithm = *f.CommunityAlgorithm
	}
	return nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case "badger":
		if c.BadgerPath == "" {
			return apperrors.NewConfigInvalid("BADGER_PATH", "required for badger backend")
		}
	case "neo4j":
		if c.Neo4jURI == "" {
			return apperrors.NewConfigInvalid("NEO4J_URI", "required for neo4j backend")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigInvalid("NEO4J_USER", "required for neo4j backend")
		}
	default:
		return apperrors.NewConfigInvalid("SNAPSHOT_BACKEND", "must be badger or neo4j")
	}
	return c.Engine.Validate()
}

// Validate fails fast on any value the engine cannot run with
func (e *EngineConfig) Validate() error {
	if err := validate.Struct(e); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewConfigInvalid(strings.ToLower(fe.Field()),
				fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()))
		}
		return apperrors.NewConfigInvalid("engine", err.Error())
	}
	for category, skills := range e.SkillCategories {
		if len(skills) == 0 {
			return apperrors.NewConfigInvalid("skill_categories", fmt.Sprintf("category %q has no skills", category))
		}
	}
	return nil
}

// ThresholdFor returns the score a node at the given degree must exceed to
// be expanded to degree+1.
func (e *EngineConfig) ThresholdFor(degree int) float64 {
	if degree <= 1 {
		return e.FirstHopThreshold
	}
	return e.ExpansionThreshold
}

// TargetProfile returns the scoring target described by the config
func (e *EngineConfig) TargetProfile() state.TargetProfile {
	return state.TargetProfile{
		Organizations:         append([]string(nil), e.TargetOrganizations...),
		SkillCategories:       copyCategories(e.SkillCategories),
		ExcludedOrganizations: append([]string(nil), e.ExcludedOrganizations...),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func copyCategories(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
