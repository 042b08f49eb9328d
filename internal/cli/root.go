package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/me/flowserve/internal/client"
	"github.com/me/flowserve/internal/config"
	"github.com/me/flowserve/internal/logging"
)

// defaultAPIURL is used by API commands when no server is configured.
const defaultAPIURL = "http://localhost:4200"

var (
	flagConfig string
	flagDebug  bool

	cfg    *config.Config
	logger *slog.Logger
	api    *client.Client
)

// NewRootCmd creates the root cobra command for the flowserve CLI.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "flowserve",
		Short: "flowserve: scheduled flow runs served by long-lived runners",
		Long: "flowserve registers deployments (a flow bound to an optional schedule), " +
			"materializes their scheduled runs and executes them on runners.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindConfigFlags(v, cmd.Flags()); err != nil {
				return err
			}
			loaded, err := config.NewLoaderWithViper(v).WithConfigFile(flagConfig).Load()
			if err != nil {
				return err
			}
			cfg = loaded
			if flagDebug {
				cfg.Log.Level = "debug"
			}
			logger = logging.FromConfig(cfg.Log)
			api = client.New(apiURL(), logger, client.WithToken(cfg.Runner.APIToken))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default ./flowserve.yaml or ~/.config/flowserve/flowserve.yaml)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("server", "", "flowserve API URL (or FLOWSERVE_RUNNER_API_URL)")
	configFlag(pf, "log-level", "log.level")
	configFlag(pf, "log-format", "log.format")
	pf.String("token", "", "API bearer token (or FLOWSERVE_RUNNER_API_TOKEN)")
	configFlag(pf, "server", "runner.api_url")
	configFlag(pf, "token", "runner.api_token")

	root.AddCommand(
		newServerCmd(),
		newServeCmd(),
		newDeploymentCmd(),
		newFlowRunCmd(),
		newVariableCmd(),
	)
	return root
}

// apiURL returns the configured server URL, or the local default.
func apiURL() string {
	if cfg != nil && cfg.Runner.APIURL != "" {
		return cfg.Runner.APIURL
	}
	return defaultAPIURL
}
