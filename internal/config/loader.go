package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// so that CLI flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "FLOWSERVE"}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FLOWSERVE_*)
// 3. flowserve.yaml in the current directory, then ~/.config/flowserve/
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("flowserve")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "flowserve"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	def := Default()

	l.v.SetDefault("log.level", def.Log.Level)
	l.v.SetDefault("log.format", def.Log.Format)

	l.v.SetDefault("server.addr", def.Server.Addr)
	l.v.SetDefault("server.db_path", def.Server.DBPath)
	l.v.SetDefault("server.api_tokens", def.Server.APITokens)

	l.v.SetDefault("scheduler.poll_interval", def.Scheduler.PollInterval)
	l.v.SetDefault("scheduler.horizon", def.Scheduler.Horizon)
	l.v.SetDefault("scheduler.max_scheduled_runs", def.Scheduler.MaxScheduledRuns)

	l.v.SetDefault("runner.name", def.Runner.Name)
	l.v.SetDefault("runner.api_url", def.Runner.APIURL)
	l.v.SetDefault("runner.api_token", def.Runner.APIToken)
	l.v.SetDefault("runner.poll_interval", def.Runner.PollInterval)
	l.v.SetDefault("runner.max_concurrency", def.Runner.MaxConcurrency)
	l.v.SetDefault("runner.cancellation_grace_period", def.Runner.CancellationGracePeriod)
	l.v.SetDefault("runner.cancellation_check_interval", def.Runner.CancellationCheckInterval)
	l.v.SetDefault("runner.prefetch", def.Runner.Prefetch)
}
