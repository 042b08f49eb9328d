package runner

import (
	"log/slog"
	"os"
	"time"
)

// Config holds runner configuration.
type Config struct {
	// Name identifies this runner to the service. RUNNING flow runs recorded
	// under the same name are re-adopted after a restart.
	Name string
	// PollInterval is the pause between polling cycles.
	PollInterval time.Duration
	// MaxConcurrency bounds simultaneous dispatchers; 0 means unbounded.
	MaxConcurrency int
	// CancellationGracePeriod is how long a cancelled flow may take to stop
	// before it is killed.
	CancellationGracePeriod time.Duration
	// CancellationCheckInterval is how often a dispatcher polls the run's remote state.
	CancellationCheckInterval time.Duration
	// Prefetch picks up runs whose expected start is up to this far in the future.
	Prefetch time.Duration
	// StopWaitsForInFlight makes Stop also wait for dispatched runs to finish.
	StopWaitsForInFlight bool
	// FinalReportTimeout bounds reporting a terminal state after the run's context is gone.
	FinalReportTimeout time.Duration
	Retry              RetryConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:                      defaultRunnerName(),
		PollInterval:              10 * time.Second,
		CancellationGracePeriod:   30 * time.Second,
		CancellationCheckInterval: time.Second,
		FinalReportTimeout:        30 * time.Second,
		Retry:                     DefaultRetryConfig(),
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxConcurrency < 0 {
		c.MaxConcurrency = 0
	}
	if c.CancellationGracePeriod <= 0 {
		c.CancellationGracePeriod = def.CancellationGracePeriod
	}
	if c.CancellationCheckInterval <= 0 {
		c.CancellationCheckInterval = def.CancellationCheckInterval
	}
	if c.Prefetch < 0 {
		c.Prefetch = 0
	}
	if c.FinalReportTimeout <= 0 {
		c.FinalReportTimeout = def.FinalReportTimeout
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = def.Retry.Initial
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = def.Retry.Max
	}
	return c
}

func defaultRunnerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "runner-" + host
}

// Option customizes Serve.
type Option func(*serveOptions)

type serveOptions struct {
	config Config
	logger *slog.Logger
}

// WithConfig replaces the whole runner configuration.
func WithConfig(cfg Config) Option {
	return func(o *serveOptions) { o.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serveOptions) { o.logger = logger }
}

// WithName sets the runner name.
func WithName(name string) Option {
	return func(o *serveOptions) { o.config.Name = name }
}

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *serveOptions) { o.config.PollInterval = d }
}

// WithMaxConcurrency bounds simultaneous runs.
func WithMaxConcurrency(n int) Option {
	return func(o *serveOptions) { o.config.MaxConcurrency = n }
}

// WithCancellationGracePeriod sets the wait between cancel and kill.
func WithCancellationGracePeriod(d time.Duration) Option {
	return func(o *serveOptions) { o.config.CancellationGracePeriod = d }
}
