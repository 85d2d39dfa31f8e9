// Package config loads the coordinator's configuration from a YAML
// file, then layers environment variable and flag overrides on top,
// following the layering cmd/multiservice/main.go applies over its own
// common.Config (YAML file -> flag overrides -> validate).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/phase"
)

// envPrefix namespaces every environment variable this package reads,
// matching SPEC_FULL.md's "COORD_ prefix" convention.
const envPrefix = "COORD_"

// StoreConfig selects and configures the round store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RestoreConfig controls startup recovery behavior.
type RestoreConfig struct {
	// Enable wires store.Store.LoadSnapshot at startup to resume the
	// phase/round recorded in durable storage, per spec.md §6.
	Enable bool `yaml:"enable"`
}

// HTTPConfig is the serializable subset of httpapi.Config: the pieces
// that make sense in a config file. httpapi.Config's Log field is
// wired up separately in cmd/coordinator, since a *slog.Logger has no
// meaningful YAML representation.
type HTTPConfig struct {
	ListenAddr               string        `yaml:"listen_addr"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
	CORSAllowedOrigins       []string      `yaml:"cors_allowed_origins"`
}

// Config is the coordinator's full configuration, covering every key
// in spec.md §6's Configuration table plus the ambient HTTP/store
// settings a complete binary needs.
type Config struct {
	HTTP        HTTPConfig    `yaml:"http"`
	Store       StoreConfig   `yaml:"store"`
	Restore     RestoreConfig `yaml:"restore"`
	Mask        mask.Config   `yaml:"mask"`
	ModelLength int           `yaml:"model_length"`
	Phase       phase.Config  `yaml:"pet"`
	Workers     int           `yaml:"workers"`
	QueueDepth  int           `yaml:"queue_depth"`
}

// Default returns a Config with reasonable development defaults: an
// in-memory store, no restore, and generous deadlines, matching the
// spirit of cmd/multiservice/main.go's DefaultConfig used when no
// --config flag is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr:               ":8080",
			ReadTimeout:              15 * time.Second,
			WriteTimeout:             15 * time.Second,
			GracefulShutdownDuration: 10 * time.Second,
		},
		Store: StoreConfig{Backend: "memory"},
		Mask:  mask.Config{Group: mask.GroupInteger, Data: mask.DataF32, Bound: mask.BoundB0, Model: mask.ModelM3},
		ModelLength: 0,
		Phase: phase.Config{
			Thresholds:  phase.Thresholds{Sum: 0.1, Update: 0.5},
			SumCount:    phase.CountBounds{Min: 1, Max: 0},
			SumTime:     phase.DeadlineBounds{Min: 10 * time.Second, Max: 2 * time.Minute},
			UpdateCount: phase.CountBounds{Min: 1, Max: 0},
			UpdateTime:  phase.DeadlineBounds{Min: 10 * time.Second, Max: 2 * time.Minute},
			Sum2Count:   phase.CountBounds{Min: 1, Max: 0},
			Sum2Time:    phase.DeadlineBounds{Min: 10 * time.Second, Max: 2 * time.Minute},
		},
		Workers:    4,
		QueueDepth: 64,
	}
}

// Load reads a YAML config file at path, starting from Default so an
// omitted section keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides layers COORD_-prefixed environment variables over
// cfg, for the handful of settings an operator typically wants to
// override per-deployment without editing the YAML file (listen
// address and store DSN, most commonly set via a container's
// environment rather than baked into an image's config file).
func (c *Config) ApplyEnvOverrides() error {
	if v, ok := os.LookupEnv(envPrefix + "HTTP_LISTEN_ADDR"); ok {
		c.HTTP.ListenAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "STORE_BACKEND"); ok {
		c.Store.Backend = v
	}
	if v, ok := os.LookupEnv(envPrefix + "STORE_POSTGRES_DSN"); ok {
		c.Store.PostgresDSN = v
	}
	if v, ok := os.LookupEnv(envPrefix + "RESTORE_ENABLE"); ok {
		enable, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sRESTORE_ENABLE: %w", envPrefix, err)
		}
		c.Restore.Enable = enable
	}
	if v, ok := os.LookupEnv(envPrefix + "MODEL_LENGTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMODEL_LENGTH: %w", envPrefix, err)
		}
		c.ModelLength = n
	}
	return nil
}

// Validate checks the invariants a Config must satisfy before the
// coordinator can start: a positive model length, a recognized store
// backend, and deadline_min <= deadline_max for every phase (spec.md
// §4.6's count_min <= count_max, deadline_min <= deadline_max
// precondition on every phase's bounds).
func (c *Config) Validate() error {
	if c.ModelLength <= 0 {
		return fmt.Errorf("config: model_length must be positive, got %d", c.ModelLength)
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	for name, bounds := range map[string]struct {
		count    phase.CountBounds
		deadline phase.DeadlineBounds
	}{
		"sum":    {c.Phase.SumCount, c.Phase.SumTime},
		"update": {c.Phase.UpdateCount, c.Phase.UpdateTime},
		"sum2":   {c.Phase.Sum2Count, c.Phase.Sum2Time},
	} {
		if bounds.count.Max != 0 && bounds.count.Min > bounds.count.Max {
			return fmt.Errorf("config: pet.%s_count.min must not exceed pet.%s_count.max", name, name)
		}
		if bounds.deadline.Min > bounds.deadline.Max {
			return fmt.Errorf("config: pet.%s_time.min must not exceed pet.%s_time.max", name, name)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("config: queue_depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}
