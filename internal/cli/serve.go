package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/melonhq/dashfeed/internal/config"
	"github.com/melonhq/dashfeed/internal/hub"
)

var (
	serveAddr         string
	servePath         string
	serveDemoInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development feed hub",
	Long: `Run a local hub that serves the dashboard feed over WebSocket.

Notifications POSTed to /notify are broadcast to every connected client as
{"type":"notification","data":{...}} frames. With --demo-interval the hub
also publishes sample trading notifications on a timer.

If server.token_hash is set (see 'dashfeed init'), clients must send the
matching bearer token.

Example:
  dashfeed serve
  dashfeed serve --addr 0.0.0.0:8000 --demo-interval 5s`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&servePath, "path", "", "feed path (overrides server.path)")
	serveCmd.Flags().DurationVar(&serveDemoInterval, "demo-interval", 0, "publish sample notifications at this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if servePath != "" {
		cfg.Server.Path = servePath
	}
	if err := config.ValidateServerConfig(&cfg.Server); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	h, err := hub.New(cfg.HubConfig(), hub.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Serving dashboard feed on ws://%s%s\n", cfg.Server.Addr, cfg.Server.Path)
	if cfg.Server.TokenHash == "" {
		fmt.Fprintln(out, "Warning: no token_hash configured, the hub accepts any client")
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Start(gctx)
	})
	if serveDemoInterval > 0 {
		g.Go(func() error {
			h.RunDemo(gctx, serveDemoInterval)
			return nil
		})
	}

	err = g.Wait()
	fmt.Fprintln(out, "Stopped.")
	return err
}
