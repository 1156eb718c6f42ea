package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/melonhq/dashfeed/internal/config"
	"github.com/melonhq/dashfeed/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "dashfeed",
	Short: "Real-time dashboard event feed client and development hub",
	Long: `Dashfeed connects to the dashboard WebSocket feed, keeps the connection
alive across drops, and fans decoded events out to subscribers.

It also ships a development hub that serves the same feed locally, so the
client can be exercised without the full backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("dashfeed version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing .dashfeed/ (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// basePath returns the directory holding .dashfeed/.
func basePath() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// loadConfig loads config.yaml and the token for the current base path.
func loadConfig() (*config.Config, error) {
	dir, err := basePath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger returns a stderr logger at the configured level. --log-level
// takes precedence over log.level.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := cfg.LogLevel()
	if logLevel != "" {
		l, err := logging.ParseLevel(logLevel)
		if err != nil {
			return nil, err
		}
		level = l
	}
	logger := logging.New()
	logger.SetLevel(level)
	return logger, nil
}
