package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/melonhq/dashfeed/internal/config"
	"github.com/melonhq/dashfeed/internal/logging"
	"github.com/melonhq/dashfeed/internal/stream"
)

var (
	tailURL               string
	tailJSON              bool
	tailTypes             []string
	tailReconnectInterval time.Duration
	tailMetricsAddr       string
	tailCount             int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events from the dashboard feed",
	Long: `Connect to the dashboard feed and print every event as it arrives.

The connection is kept alive: when it drops, tail reconnects after the
configured interval and keeps printing. Malformed frames are skipped and
logged at debug level.

Example:
  dashfeed tail
  dashfeed tail --url wss://melon.example.com/ws/dashboard/ --json
  dashfeed tail --type notification --count 10
  dashfeed tail --metrics-addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "feed URL (overrides client.url)")
	tailCmd.Flags().BoolVar(&tailJSON, "json", false, "print raw frames, one per line")
	tailCmd.Flags().StringSliceVarP(&tailTypes, "type", "t", nil, "only print events of these types")
	tailCmd.Flags().DurationVar(&tailReconnectInterval, "reconnect-interval", 0, "delay between reconnect attempts (overrides client.reconnect_interval)")
	tailCmd.Flags().StringVar(&tailMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	tailCmd.Flags().IntVarP(&tailCount, "count", "n", 0, "exit after printing this many events (0 runs until interrupted)")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if tailURL != "" {
		cfg.Client.URL = tailURL
	}
	if tailReconnectInterval > 0 {
		cfg.Client.ReconnectInterval = tailReconnectInterval
	}
	if tailMetricsAddr != "" {
		cfg.Metrics.Addr = tailMetricsAddr
	}
	if err := config.ValidateClientConfig(&cfg.Client); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPrinter(cmd.OutOrStdout(), tailJSON, tailTypes, tailCount)
	return tail(ctx, cfg, p, logger)
}

// tail feeds events to p until ctx is done, p has printed its limit or the
// client gives up reconnecting.
func tail(ctx context.Context, cfg *config.Config, p *printer, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.done = cancel

	reg := prometheus.NewRegistry()
	metrics, err := stream.NewMetrics(reg)
	if err != nil {
		return err
	}

	gaveUp := make(chan error, 1)
	opts := append(cfg.ClientOptions(),
		stream.WithLogger(logger),
		stream.WithMetrics(metrics),
		stream.WithErrorHook(func(err error) {
			if errors.Is(err, stream.ErrMaxReconnectAttempts) {
				select {
				case gaveUp <- err:
				default:
				}
				return
			}
			logger.Debug("Feed error", "error", err)
		}),
	)
	client := stream.NewStreamClient(cfg.Client.URL, opts...)

	client.Subscribe(p.handle)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, reg, logger)
		})
	}
	g.Go(func() error {
		if err := client.Connect(); err != nil {
			return err
		}
		var loopErr error
		select {
		case <-gctx.Done():
		case loopErr = <-gaveUp:
		}
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close feed", "error", err)
		}
		return loopErr
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return p.writeErr()
}

// serveMetrics serves reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// printer is the tail subscriber. Handlers run on the client's connection
// goroutine, one event at a time.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	json  bool
	types map[string]bool
	limit int
	n     int
	done  func()
	err   error
}

func newPrinter(out io.Writer, raw bool, types []string, limit int) *printer {
	p := &printer{out: out, json: raw, limit: limit, done: func() {}}
	if len(types) > 0 {
		p.types = make(map[string]bool, len(types))
		for _, t := range types {
			p.types[t] = true
		}
	}
	return p
}

func (p *printer) handle(e *stream.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.n >= p.limit {
		return
	}
	if p.types != nil && !p.types[e.Type] {
		return
	}

	var err error
	if p.json {
		_, err = fmt.Fprintf(p.out, "%s\n", e.Raw)
	} else {
		_, err = fmt.Fprintln(p.out, formatEvent(e))
	}
	if err != nil {
		p.err = fmt.Errorf("failed to write event: %w", err)
		p.done()
		return
	}

	p.n++
	if p.limit > 0 && p.n >= p.limit {
		p.done()
	}
}

func (p *printer) writeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// formatEvent renders an event as a single human-readable line.
func formatEvent(e *stream.Event) string {
	ts := e.ReceivedAt.Format("15:04:05")

	if n, err := e.NotificationData(); err == nil {
		kind := n.Kind
		if kind == "" {
			kind = stream.NotificationKindInfo
		}
		line := fmt.Sprintf("%s [%s] %s", ts, kind, n.Title)
		if n.Body != "" {
			line += ": " + n.Body
		}
		var extra []string
		if n.Symbol != "" {
			extra = append(extra, "symbol="+n.Symbol)
		}
		if n.Side != "" {
			extra = append(extra, "side="+n.Side)
		}
		if n.Amount != "" {
			extra = append(extra, "amount="+n.Amount)
		}
		if n.TradeID != 0 {
			extra = append(extra, fmt.Sprintf("trade_id=%d", n.TradeID))
		}
		if len(extra) > 0 {
			line += " (" + strings.Join(extra, " ") + ")"
		}
		return line
	}

	if len(e.Data) == 0 {
		return fmt.Sprintf("%s %s", ts, e.Type)
	}
	return fmt.Sprintf("%s %s %s", ts, e.Type, e.Data)
}
