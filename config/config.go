package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/weft-ai/weft/persistence"
)

// Config is the full runtime configuration.
type Config struct {
	// Log is the logging configuration
	Log LogConfig `yaml:"log" env:"LOG"`

	// Store is the project snapshot store configuration
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Audit is the handoff audit store configuration
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Orchestrator is the run-loop configuration
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Handoff is the agent handoff configuration
	Handoff HandoffConfig `yaml:"handoff" env:"HANDOFF"`

	// Metrics is the Prometheus configuration
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`

	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`

	// OutputPaths are the log sinks (stdout, stderr, or file paths)
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`

	// EnableCaller adds caller annotations
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`

	// EnableStacktrace adds stack traces to error-level entries
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// StoreConfig configures the project snapshot store.
type StoreConfig struct {
	// Type: memory, file, redis
	Type string `yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`

	// Redis connection settings (used when Type is "redis")
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AuditConfig configures the handoff audit store.
type AuditConfig struct {
	// Enabled turns durable audit storage on
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Path is the SQLite database path (":memory:" for ephemeral)
	Path string `yaml:"path" env:"PATH"`
}

// OrchestratorConfig configures the run loop.
type OrchestratorConfig struct {
	// MaxIterations is the loop budget per run
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`

	// MaxReplans caps replanning per task lineage
	MaxReplans int `yaml:"max_replans" env:"MAX_REPLANS"`

	// BatchMode dispatches the whole ready set concurrently
	BatchMode bool `yaml:"batch_mode" env:"BATCH_MODE"`

	// DispatchRPS rate-limits batch dispatch; 0 disables the limiter
	DispatchRPS float64 `yaml:"dispatch_rps" env:"DISPATCH_RPS"`
}

// HandoffConfig configures the handoff coordinator.
type HandoffConfig struct {
	// DefaultTimeout is the per-handoff budget when a request carries none
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns metric collection on
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Namespace prefixes every metric name
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	switch c.Store.Type {
	case string(persistence.StoreTypeMemory), string(persistence.StoreTypeFile), string(persistence.StoreTypeRedis):
	default:
		errs = append(errs, fmt.Sprintf("unknown store type %q", c.Store.Type))
	}

	if c.Orchestrator.MaxIterations <= 0 {
		errs = append(errs, "max_iterations must be positive")
	}
	if c.Orchestrator.MaxReplans < 0 {
		errs = append(errs, "max_replans must not be negative")
	}
	if c.Handoff.DefaultTimeout <= 0 {
		errs = append(errs, "handoff default_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PersistenceConfig translates the snapshot store section into the
// persistence package's configuration.
func (c *Config) PersistenceConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:    persistence.StoreType(c.Store.Type),
		BaseDir: c.Store.BaseDir,
		Redis: persistence.RedisStoreConfig{
			Host:      c.Store.Redis.Host,
			Port:      c.Store.Redis.Port,
			Password:  c.Store.Redis.Password,
			DB:        c.Store.Redis.DB,
			PoolSize:  c.Store.Redis.PoolSize,
			KeyPrefix: c.Store.Redis.KeyPrefix,
		},
	}
}
