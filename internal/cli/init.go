package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/melonhq/dashfeed/internal/auth"
	"github.com/melonhq/dashfeed/internal/config"
)

var (
	initForce   bool
	initNoToken bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .dashfeed/ directory structure",
	Long: `Creates the .dashfeed/ directory with a default configuration.

This command sets up:
  - config.yaml with client, hub, logging and metrics defaults
  - .env holding a freshly generated DASHFEED_TOKEN (gitignored)
  - server.token_hash in config.yaml so the local hub accepts that token

Use --no-token to leave the hub open and skip token generation.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing configuration")
	initCmd.Flags().BoolVar(&initNoToken, "no-token", false, "do not generate a hub token")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	base, err := basePath()
	if err != nil {
		return err
	}

	dir := filepath.Join(base, config.DirName)
	if fileExists(filepath.Join(dir, "config.yaml")) && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", filepath.Join(config.DirName, "config.yaml"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	var tokenHash string
	if !initNoToken {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		tokenHash, err = auth.HashToken(token)
		if err != nil {
			return err
		}

		env, err := config.LoadEnvFile(base)
		if err != nil {
			return err
		}
		env[config.TokenEnvVar] = token
		if err := config.WriteEnvFile(base, env); err != nil {
			return err
		}
	}

	if err := writeConfigYAML(dir, tokenHash); err != nil {
		return err
	}
	if err := writeGitignore(dir); err != nil {
		return err
	}

	// Catch template drift early.
	if _, err := config.LoadConfig(base); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized %s/ in %s\n", config.DirName, base)
	if tokenHash != "" {
		fmt.Fprintf(out, "Generated %s in %s\n", config.TokenEnvVar, filepath.Join(config.DirName, ".env"))
	}
	return nil
}

// fileExists checks if a regular file exists.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func writeConfigYAML(dir, tokenHash string) error {
	def := config.DefaultConfig()
	content := fmt.Sprintf(`# Dashfeed configuration

client:
  # Dashboard feed endpoint
  url: %s

  # Delay between reconnect attempts
  reconnect_interval: %s

  # Give up after this many consecutive failures (0 retries forever)
  max_reconnect_attempts: 0

  # fixed or exponential
  backoff: fixed

  handshake_timeout: %s
  read_limit: %d

server:
  # Development hub listen address and feed path
  addr: %s
  path: %s

  # argon2id hash of the accepted bearer token (empty accepts anyone)
  token_hash: %q

  # Frames buffered per connection before new frames are dropped
  send_queue: %d

  # POST /notify requests allowed per client IP and window
  rate_limit:
    max_requests: %d
    window: %s

log:
  level: warn

metrics:
  # Prometheus listen address, empty to disable
  addr: ""
`,
		def.Client.URL,
		def.Client.ReconnectInterval,
		def.Client.HandshakeTimeout,
		def.Client.ReadLimit,
		def.Server.Addr,
		def.Server.Path,
		tokenHash,
		def.Server.SendQueue,
		def.Server.RateLimit.MaxRequests,
		def.Server.RateLimit.Window,
	)
	return os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644)
}

func writeGitignore(dir string) error {
	content := `# Credentials
.env
`
	return os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644)
}
