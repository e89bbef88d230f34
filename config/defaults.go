package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:          DefaultLogConfig(),
		Store:        DefaultStoreConfig(),
		Audit:        DefaultAuditConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Handoff:      DefaultHandoffConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultStoreConfig returns the default snapshot store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    "memory",
		BaseDir: "./data/weft",
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "weft:",
		},
	}
}

// DefaultAuditConfig returns the default audit store configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: false,
		Path:    "./data/weft/audit.db",
	}
}

// DefaultOrchestratorConfig returns the default run-loop configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxIterations: 100,
		MaxReplans:    3,
		BatchMode:     false,
		DispatchRPS:   0,
	}
}

// DefaultHandoffConfig returns the default handoff configuration.
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		DefaultTimeout: 30 * time.Second,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "weft",
	}
}
