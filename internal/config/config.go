package config

import "time"

// Config is the full flowserve configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Runner    RunnerConfig    `mapstructure:"runner"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds configuration for the flowserve API server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`    // Listen address (default ":4200")
	DBPath string `mapstructure:"db_path"` // SQLite database path (":memory:" for testing)

	// APITokens, when set, are the bearer tokens accepted by the API.
	// An empty list leaves the API open.
	APITokens []string `mapstructure:"api_tokens"`
}

// SchedulerConfig controls materialization of scheduled flow runs.
type SchedulerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Horizon          time.Duration `mapstructure:"horizon"`
	MaxScheduledRuns int           `mapstructure:"max_scheduled_runs"`
}

// RunnerConfig controls `flowserve serve`.
type RunnerConfig struct {
	Name                      string        `mapstructure:"name"`
	APIURL                    string        `mapstructure:"api_url"` // empty runs against a local store
	APIToken                  string        `mapstructure:"api_token"`
	PollInterval              time.Duration `mapstructure:"poll_interval"`
	MaxConcurrency            int           `mapstructure:"max_concurrency"`
	CancellationGracePeriod   time.Duration `mapstructure:"cancellation_grace_period"`
	CancellationCheckInterval time.Duration `mapstructure:"cancellation_check_interval"`
	Prefetch                  time.Duration `mapstructure:"prefetch"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":4200",
		DBPath:    "flowserve.db",
		APITokens: []string{},
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: DefaultServerConfig(),
		Scheduler: SchedulerConfig{
			PollInterval:     5 * time.Second,
			Horizon:          time.Hour,
			MaxScheduledRuns: 10,
		},
		Runner: RunnerConfig{
			PollInterval:              10 * time.Second,
			CancellationGracePeriod:   30 * time.Second,
			CancellationCheckInterval: time.Second,
		},
	}
}
