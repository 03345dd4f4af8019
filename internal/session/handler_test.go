// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
	"github.com/Azure/azure-iot-device-go/internal/session"
	"github.com/Azure/azure-iot-device-go/internal/transport"
	"github.com/Azure/azure-iot-device-go/internal/transport/transporttest"
	"github.com/Azure/azure-iot-device-go/pkg/devicemodel"
)

// statusRecorder collects every ConnectionStatusInfo reported by a Handler,
// in order, safe for concurrent use from the disconnect watcher goroutine.
type statusRecorder struct {
	mu   sync.Mutex
	logs []session.StatusInfo
}

func (r *statusRecorder) record(_ context.Context, info session.StatusInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, info)
}

func (r *statusRecorder) snapshot() []session.StatusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.StatusInfo, len(r.logs))
	copy(out, r.logs)
	return out
}

func fastPolicy() retrypolicy.Policy {
	return retrypolicy.Fixed(0, time.Millisecond)
}

// Scenario 1 (spec.md §8): happy-path send. Open succeeds, one telemetry
// send succeeds, transport observes exactly open then send.
func TestScenario1HappyPathSend(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	rec := &statusRecorder{}
	h := session.New(stub, session.WithStatusReporter(rec.record), session.WithRetryPolicy(fastPolicy()))

	require.NoError(t, h.Open(context.Background()))
	require.Equal(t, session.StateOpen, h.State())

	require.NoError(t, h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"}))

	calls := stub.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "open", calls[0].Op)
	require.Equal(t, "send", calls[1].Op)

	statuses := rec.snapshot()
	require.Len(t, statuses, 1)
	require.Equal(t, session.StatusConnected, statuses[0].Status)
	require.Equal(t, session.ReasonConnectionOK, statuses[0].Reason)
}

// Scenario 2: transient send failure retries and eventually succeeds
// without the caller ever observing an error.
func TestScenario2TransientSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	stub.ScriptSend(faults.New(faults.KindNetwork, "blip"), faults.New(faults.KindNetwork, "blip again"), nil)

	h := session.New(stub, session.WithRetryPolicy(fastPolicy()))
	require.NoError(t, h.Open(context.Background()))

	require.NoError(t, h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"}))

	sendCalls := 0
	for _, c := range stub.Calls() {
		if c.Op == "send" {
			sendCalls++
		}
	}
	require.Equal(t, 3, sendCalls)
}

// Scenario 3: Open against a transport that always returns Unauthorized
// exhausts immediately (non-transient, never retried) and the caller
// receives the Unauthorized error with no successful open.
func TestScenario3OpenExhaustsOnUnauthorized(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	stub.ScriptOpen(faults.New(faults.KindUnauthorized, "bad sas"))

	rec := &statusRecorder{}
	h := session.New(stub, session.WithStatusReporter(rec.record), session.WithRetryPolicy(fastPolicy()))

	err := h.Open(context.Background())
	require.Error(t, err)
	fe, ok := faults.Of(err)
	require.True(t, ok)
	require.Equal(t, faults.KindUnauthorized, fe.Kind)
	require.Equal(t, session.StateClosed, h.State())

	statuses := rec.snapshot()
	require.Len(t, statuses, 1)
	require.Equal(t, session.StatusDisconnected, statuses[0].Status)
	require.Equal(t, session.ReasonBadCredential, statuses[0].Reason)

	opens := 0
	for _, c := range stub.Calls() {
		if c.Op == "open" {
			opens++
		}
	}
	require.Equal(t, 1, opens)
}

// Scenario 4: an unexpected close triggers the disconnect watcher, which
// reopens the transport and re-enables every subscription the user had
// asked for, in a single pass.
func TestScenario4UnexpectedCloseRecoversSubscriptions(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	rec := &statusRecorder{}
	h := session.New(stub, session.WithStatusReporter(rec.record), session.WithRetryPolicy(fastPolicy()))

	require.NoError(t, h.Open(context.Background()))
	require.NoError(t, h.EnableMethods(context.Background()))
	require.NoError(t, h.EnableTwin(context.Background()))

	stub.TriggerUnexpectedClose()

	require.Eventually(t, func() bool {
		return h.State() == session.StateOpen
	}, time.Second, time.Millisecond)

	flags := h.Flags()
	require.True(t, flags.Methods)
	require.True(t, flags.Twin)

	enableMethods, enableTwin := 0, 0
	opens := 0
	for _, c := range stub.Calls() {
		switch {
		case c.Op == "open":
			opens++
		case c.Op == "enable:"+transport.SubscriptionMethods.String():
			enableMethods++
		case c.Op == "enable:"+transport.SubscriptionTwin.String():
			enableTwin++
		}
	}
	require.Equal(t, 2, opens)
	require.GreaterOrEqual(t, enableMethods, 2)
	require.GreaterOrEqual(t, enableTwin, 2)

	statuses := rec.snapshot()
	require.Contains(t, statusesOf(statuses), session.StatusDisconnectedRetrying)
	require.Equal(t, session.StatusConnected, statuses[len(statuses)-1].Status)
}

func statusesOf(infos []session.StatusInfo) []session.Status {
	out := make([]session.Status, len(infos))
	for i, info := range infos {
		out[i] = info.Status
	}
	return out
}

// Scenario 5: Close cancels an in-flight retry sleep promptly instead of
// waiting out the backoff delay.
func TestScenario5CloseCancelsInFlightRetrySleep(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	// Every send fails forever, so SendTelemetry sits in the retry engine's
	// sleep between attempts.
	for i := 0; i < 1000; i++ {
		stub.ScriptSend(faults.New(faults.KindNetwork, "down"))
	}

	h := session.New(stub, session.WithRetryPolicy(retrypolicy.Fixed(0, time.Minute)))
	require.NoError(t, h.Open(context.Background()))

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"})
	}()

	// Give SendTelemetry time to enter its minute-long backoff sleep.
	time.Sleep(20 * time.Millisecond)

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- h.Close(context.Background())
	}()

	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not complete promptly while a send was sleeping a minute-long backoff")
	}

	select {
	case err := <-sendErr:
		require.Error(t, err)
		require.True(t, faults.IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("in-flight send never observed cancellation")
	}
}

// At most one Open is ever in flight: concurrent Open calls all succeed
// and the transport observes exactly one open call.
func TestInvariantAtMostOneOpenInFlight(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	h := session.New(stub, session.WithRetryPolicy(fastPolicy()))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.Open(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	opens := 0
	for _, c := range stub.Calls() {
		if c.Op == "open" {
			opens++
		}
	}
	require.Equal(t, 1, opens)
}

// A failed Enable never flips the subscription flag (invariant #2).
func TestInvariantFailedEnableDoesNotFlipFlag(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	stub.ScriptEnable(transport.SubscriptionMethods, faults.New(faults.KindArgumentInvalid, "nope"))

	h := session.New(stub, session.WithRetryPolicy(fastPolicy()))
	require.NoError(t, h.Open(context.Background()))

	err := h.EnableMethods(context.Background())
	require.Error(t, err)
	require.False(t, h.Flags().Methods)
}

// NoRetry surfaces the first transient error immediately, with exactly one
// attempt against the transport.
func TestNoRetryPolicySurfacesFirstErrorImmediately(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	stub.ScriptSend(faults.New(faults.KindNetwork, "down"))

	h := session.New(stub, session.WithRetryPolicy(retrypolicy.NoRetry()))
	require.NoError(t, h.Open(context.Background()))

	err := h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"})
	require.Error(t, err)

	sendCalls := 0
	for _, c := range stub.Calls() {
		if c.Op == "send" {
			sendCalls++
		}
	}
	require.Equal(t, 1, sendCalls)
}

// Double Dispose is a no-op: Close logic runs exactly once.
func TestDoubleDisposeIsNoOp(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	h := session.New(stub, session.WithRetryPolicy(fastPolicy()))
	require.NoError(t, h.Open(context.Background()))

	h.Dispose(context.Background())
	h.Dispose(context.Background())

	closes := 0
	for _, c := range stub.Calls() {
		if c.Op == "close" {
			closes++
		}
	}
	require.Equal(t, 1, closes)

	err := h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"})
	require.Error(t, err)
	fe, ok := faults.Of(err)
	require.True(t, ok)
	require.Equal(t, faults.KindObjectDisposed, fe.Kind)
}

// Operations against a never-opened session fail fast with NotOpen and its
// "call open and try again" message, not the post-close variant.
func TestNotOpenMessageBeforeFirstOpen(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	h := session.New(stub)

	err := h.SendTelemetry(context.Background(), devicemodel.Message{ID: "m1"})
	require.Error(t, err)
	fe, ok := faults.Of(err)
	require.True(t, ok)
	require.Equal(t, faults.KindNotOpen, fe.Kind)
	require.Contains(t, fe.Message, "open")
}

// Re-opening after Close is rejected (Open Question (c)): the caller must
// construct a fresh Handler.
func TestReopenAfterCloseIsRejected(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	h := session.New(stub, session.WithRetryPolicy(fastPolicy()))
	require.NoError(t, h.Open(context.Background()))
	require.NoError(t, h.Close(context.Background()))

	err := h.Open(context.Background())
	require.Error(t, err)
	fe, ok := faults.Of(err)
	require.True(t, ok)
	require.Equal(t, faults.KindObjectDisposed, fe.Kind)
}

// The watcher refuses recovery at attempt 0 when the policy itself says no
// (e.g. NoRetry), transitioning straight to Disconnected/RetryExpired
// without ever calling transport.Open again.
func TestWatcherRefusesRecoveryUnderNoRetryPolicy(t *testing.T) {
	t.Parallel()

	stub := transporttest.New()
	rec := &statusRecorder{}
	h := session.New(stub, session.WithStatusReporter(rec.record), session.WithRetryPolicy(retrypolicy.NoRetry()))

	require.NoError(t, h.Open(context.Background()))
	stub.TriggerUnexpectedClose()

	require.Eventually(t, func() bool {
		return h.State() == session.StateDisconnected
	}, time.Second, time.Millisecond)

	opens := 0
	for _, c := range stub.Calls() {
		if c.Op == "open" {
			opens++
		}
	}
	require.Equal(t, 1, opens)

	statuses := rec.snapshot()
	last := statuses[len(statuses)-1]
	require.Equal(t, session.StatusDisconnected, last.Status)
	require.Equal(t, session.ReasonRetryExpired, last.Reason)
}
