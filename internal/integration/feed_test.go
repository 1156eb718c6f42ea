//go:build integration

// feed_test.go runs the stream client against real hub processes listening
// on loopback, wired together from on-disk configuration the way the CLI
// wires them.
package integration

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melonhq/dashfeed/internal/auth"
	"github.com/melonhq/dashfeed/internal/config"
	"github.com/melonhq/dashfeed/internal/hub"
	"github.com/melonhq/dashfeed/internal/logging"
	"github.com/melonhq/dashfeed/internal/stream"
	"github.com/melonhq/dashfeed/internal/testutil"
)

func quietLogger() *logging.Logger {
	return logging.NewWriter(io.Discard, logging.LevelError)
}

// startHub starts h on its configured address and waits until it listens.
func startHub(t *testing.T, h *hub.Hub) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.Stop()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})

	testutil.WaitFor(t, 2*time.Second, func() bool { return h.URL() != "" }, "hub listening")
}

// writeProject writes a config with a generated token the way init does.
func writeProject(t *testing.T) string {
	t.Helper()

	dir := testutil.SetupTestDir(t)
	token, err := auth.GenerateToken()
	require.NoError(t, err)
	hash, err := auth.HashToken(token)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.TokenHash = hash
	cfg.Client.ReconnectInterval = 100 * time.Millisecond
	require.NoError(t, config.WriteConfig(dir, &cfg))
	require.NoError(t, config.WriteEnvFile(dir, map[string]string{config.TokenEnvVar: token}))
	return dir
}

// TestFeedSurvivesHubRestart stops the hub gracefully, starts a new one on
// the same address, and checks that the client reconnects on its own and
// keeps delivering to the subscribers registered before the restart.
func TestFeedSurvivesHubRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Setenv(config.TokenEnvVar, "")

	cfg, err := config.Load(writeProject(t))
	require.NoError(t, err)

	first, err := hub.New(cfg.HubConfig(), hub.WithLogger(quietLogger()))
	require.NoError(t, err)
	startHub(t, first)
	addr := first.Addr()

	opts := append(cfg.ClientOptions(), stream.WithLogger(quietLogger()))
	client := stream.NewStreamClient(first.URL(), opts...)
	defer client.Close()

	rec := testutil.NewRecorder[*stream.Event]()
	client.Subscribe(rec.Add)
	require.NoError(t, client.Connect())
	testutil.WaitFor(t, 2*time.Second, func() bool { return first.ClientCount() == 1 }, "client connected")

	_, err = first.PublishNotification(stream.Notification{Title: "before restart"})
	require.NoError(t, err)
	rec.WaitForLen(t, 1, 2*time.Second)

	require.NoError(t, first.Stop())
	testutil.WaitFor(t, 2*time.Second, func() bool { return client.State() != stream.StateOpen }, "client saw the close")

	hubCfg := cfg.HubConfig()
	hubCfg.Addr = addr
	second, err := hub.New(hubCfg, hub.WithLogger(quietLogger()))
	require.NoError(t, err)
	startHub(t, second)

	testutil.WaitFor(t, 5*time.Second, func() bool { return second.ClientCount() == 1 }, "client reconnected")

	_, err = second.PublishNotification(stream.Notification{Title: "after restart"})
	require.NoError(t, err)
	got := rec.WaitForLen(t, 2, 2*time.Second)

	n, err := got[1].NotificationData()
	require.NoError(t, err)
	assert.Equal(t, "after restart", n.Title)
	assert.Equal(t, 2, rec.Len())
}

// TestFeedFanOut connects several clients and checks each receives every
// published event, in order.
func TestFeedFanOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h, err := hub.New(hub.Config{Addr: "127.0.0.1:0"}, hub.WithLogger(quietLogger()))
	require.NoError(t, err)
	startHub(t, h)

	const clients, events = 5, 20

	recs := make([]*testutil.Recorder[*stream.Event], clients)
	var wg sync.WaitGroup
	for i := range recs {
		recs[i] = testutil.NewRecorder[*stream.Event]()
		c := stream.NewStreamClient(h.URL(), stream.WithLogger(quietLogger()))
		defer c.Close()
		c.Subscribe(recs[i].Add)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Connect())
		}()
	}
	wg.Wait()
	testutil.WaitFor(t, 5*time.Second, func() bool { return h.ClientCount() == clients }, "all clients connected")

	for i := 0; i < events; i++ {
		_, err := h.Publish(stream.MustNewEvent("tick", i))
		require.NoError(t, err)
	}

	for _, rec := range recs {
		got := rec.WaitForLen(t, events, 5*time.Second)
		for i, e := range got {
			var n int
			require.NoError(t, e.DecodeData(&n))
			assert.Equal(t, i, n)
		}
	}
}
