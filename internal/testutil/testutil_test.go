package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFramesAreJSONObjects(t *testing.T) {
	t.Parallel()

	for _, frame := range []string{SampleNotificationFrame, SampleSignalFrame, SamplePaymentFrame, SampleTickerFrame} {
		var v map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(frame), &v), frame)
		assert.Contains(t, v, "type")
		assert.Contains(t, v, "data")
	}
}

func TestMalformedFrames(t *testing.T) {
	t.Parallel()

	frames := MalformedFrames()
	assert.NotEmpty(t, frames)

	// Each call returns a fresh map
	frames["extra"] = "x"
	assert.NotContains(t, MalformedFrames(), "extra")
}

func TestSetupTestDir(t *testing.T) {
	t.Parallel()

	dir := SetupTestDir(t)
	info, err := os.Stat(filepath.Join(dir, ".dashfeed"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteTestFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	WriteTestFile(t, dir, ".dashfeed/config.yaml", []byte("log:\n  level: debug\n"))

	data, err := os.ReadFile(filepath.Join(dir, ".dashfeed", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug")
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	ready := false
	go func() {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		ready = true
		mu.Unlock()
	}()

	WaitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready
	}, "ready flag")
}

func TestAssertNever(t *testing.T) {
	t.Parallel()

	AssertNever(t, 30*time.Millisecond, func() bool { return false }, "condition should stay false")
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			rec.Add(v)
		}(i)
	}
	wg.Wait()

	got := rec.WaitForLen(t, 10, time.Second)
	assert.Len(t, got, 10)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	// All returns a copy
	got[0] = 100
	assert.NotContains(t, rec.All(), 100)
}
