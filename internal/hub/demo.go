package hub

import (
	"context"
	"time"

	"github.com/melonhq/dashfeed/internal/stream"
)

// demoNotifications mirrors what the backend pushes to the dashboard group.
var demoNotifications = []stream.Notification{
	{
		Title:      "Nouveau Signal: AAPL",
		Body:       "Signal BUY détecté avec une confiance de 87%.",
		Kind:       stream.NotificationKindNewSignal,
		Symbol:     "AAPL",
		Side:       "BUY",
		Confidence: 0.87,
	},
	{
		Title:  "Paiement Réussi",
		Body:   "Votre dépôt de 50.00 USD via MOBILE_MONEY a été confirmé.",
		Kind:   stream.NotificationKindPaymentSuccess,
		Amount: "50.00",
	},
	{
		Title:   "Auto-Trade Exécuté",
		Body:    "L'IA a passé un ordre BUY pour BTCUSD automatiquement.",
		Kind:    stream.NotificationKindAutoTradeExecuted,
		Symbol:  "BTCUSD",
		Side:    "BUY",
		TradeID: 1,
	},
	{
		Title: "BTC Spike",
		Body:  "+5% in 10m",
		Kind:  stream.NotificationKindInfo,
	},
}

// RunDemo publishes a rotating set of sample notifications every interval
// until ctx is done.
func (h *Hub) RunDemo(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := demoNotifications[i%len(demoNotifications)]
		if n.Kind == stream.NotificationKindAutoTradeExecuted {
			n.TradeID = int64(i + 1)
		}
		n.Timestamp = []byte(`"` + h.now().UTC().Format(time.RFC3339) + `"`)

		queued, err := h.PublishNotification(n)
		if err != nil {
			h.logger.Warn("Demo publish failed", "error", err)
			continue
		}
		h.logger.Debug("Published demo notification", "title", n.Title, "clients", queued)
	}
}
