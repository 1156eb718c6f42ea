package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/melonhq/dashfeed/internal/stream"
)

var (
	notifyHub     string
	notifyTitle   string
	notifyBody    string
	notifyKind    string
	notifySymbol  string
	notifyAmount  string
	notifyRetries uint64
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish a notification through the hub",
	Long: `Publish a notification to every client connected to a hub.

The request is sent to the hub's /notify endpoint with the token from
DASHFEED_TOKEN (process environment or .dashfeed/.env). Connection
failures and 5xx responses are retried with exponential backoff; rejected
notifications are not.

Example:
  dashfeed notify --title "BTC Spike" --body "+5% in 10 minutes"
  dashfeed notify --kind NEW_SIGNAL --symbol AAPL --title "New Signal: BUY AAPL"`,
	Args: cobra.NoArgs,
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().StringVar(&notifyHub, "hub", "", "hub base URL (default: http://<server.addr>)")
	notifyCmd.Flags().StringVar(&notifyTitle, "title", "", "notification title (required)")
	notifyCmd.Flags().StringVar(&notifyBody, "body", "", "notification body")
	notifyCmd.Flags().StringVar(&notifyKind, "kind", stream.NotificationKindInfo, "notification kind, e.g. INFO, NEW_SIGNAL, PAYMENT_SUCCESS")
	notifyCmd.Flags().StringVar(&notifySymbol, "symbol", "", "ticker symbol")
	notifyCmd.Flags().StringVar(&notifyAmount, "amount", "", "amount, for payment notifications")
	notifyCmd.Flags().Uint64Var(&notifyRetries, "retries", 3, "retries on connection failures and 5xx responses")
	notifyCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hubURL := notifyHub
	if hubURL == "" {
		hubURL = "http://" + cfg.Server.Addr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := sendNotification(ctx, hubURL, cfg.Token, stream.Notification{
		Title:  notifyTitle,
		Body:   notifyBody,
		Kind:   notifyKind,
		Symbol: notifySymbol,
		Amount: notifyAmount,
	}, newNotifyBackOff(notifyRetries))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %d client(s)\n", res.ID, res.Clients)
	return nil
}

// notifyResult is the hub's response to POST /notify.
type notifyResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// newNotifyBackOff returns the retry schedule for notify: exponential from
// 200ms, at most retries retries.
func newNotifyBackOff(retries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, retries)
}

// sendNotification POSTs n to the hub at hubURL, retrying on b.
func sendNotification(ctx context.Context, hubURL, token string, n stream.Notification, b backoff.BackOff) (*notifyResult, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	endpoint := strings.TrimRight(hubURL, "/") + "/notify"

	var res *notifyResult
	err = backoff.Retry(func() error {
		r, err := postNotification(ctx, endpoint, token, body)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// postNotification makes one attempt. Errors that retrying cannot fix are
// wrapped with backoff.Permanent.
func postNotification(ctx context.Context, endpoint, token string, body []byte) (*notifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("hub rejected notification: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var res notifyResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode hub response: %w", err))
	}
	return &res, nil
}
