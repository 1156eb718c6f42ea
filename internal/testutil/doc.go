// Package testutil provides shared test utilities for dashfeed.
//
// # Fixtures
//
// The fixtures.go file provides sample frames as they arrive on the wire:
//
//   - SampleNotificationFrame - the "BTC Spike" notification frame
//   - SampleSignalFrame, SamplePaymentFrame - other backend notification kinds
//   - MalformedFrames() - frames the client must drop
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupTestDir(t) - creates a temp directory with a .dashfeed structure
//   - WriteTestFile(t, base, path, content) - writes a file in test dir
//
// # Assertions
//
// The assertions.go file provides polling helpers for asynchronous code:
//
//   - WaitFor(t, timeout, cond, msg) - require.Eventually with a fixed tick
//   - Recorder[T] - goroutine-safe collector with WaitForLen
//   - AssertNever(t, window, cond, msg) - assert.Never that stops the test
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    rec := testutil.NewRecorder[*stream.Event]()
//	    client.Subscribe(rec.Add)
//	    rec.WaitForLen(t, 1, time.Second)
//	}
package testutil
