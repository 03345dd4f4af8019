// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retryengine"
	"github.com/Azure/azure-iot-device-go/internal/transport"
)

// spawnWatcher starts a new disconnect watcher, tracked by watcherWG so
// Close can wait for every generation of watcher to exit before returning.
func (h *Handler) spawnWatcher() {
	h.watcherWG.Add(1)
	go func() {
		defer h.watcherWG.Done()
		h.runWatcher()
	}()
}

// runWatcher implements spec.md §4.D's disconnect watcher. It is spawned
// once per successful open (initial or recovered) and exits either because
// the close was graceful, because recovery succeeded (spawning its own
// successor), or because recovery was non-retryably refused.
func (h *Handler) runWatcher() {
	err := h.transport.WaitForTransportClosed(h.pendingCtx)
	if err != nil {
		// WaitForTransportClosed returns non-nil only because pendingCtx
		// was cancelled: a graceful close is in progress. Close itself
		// reports (Disabled, ClientClosed); nothing more to do here.
		return
	}

	// Unexpected close: begin recovery.
	if err := h.openLock.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer h.openLock.Release(1)

	h.state.store(StateDisconnectedRetrying)
	h.report(context.Background(), StatusInfo{
		Status:    StatusDisconnectedRetrying,
		Reason:    ReasonCommunicationError,
		Timestamp: nowUTC(),
	})

	policy := h.engine.Policy()
	synthetic := faults.New(faults.KindNetwork, "transport closed unexpectedly")
	delay, shouldRetry := policy.Decide(0, synthetic)
	if !shouldRetry {
		h.state.store(StateDisconnected)
		h.report(context.Background(), StatusInfo{
			Status:    StatusDisconnected,
			Reason:    ReasonRetryExpired,
			Timestamp: nowUTC(),
		})
		return
	}

	if !watcherSleep(h.pendingCtx, delay) {
		// cancelled mid-sleep: a graceful close is in progress.
		return
	}

	flags := h.Flags()

	_, err = retryengine.Run(h.pendingCtx, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		if err := h.transport.Open(attemptCtx); err != nil {
			return struct{}{}, err
		}

		g, gctx := errgroup.WithContext(attemptCtx)
		for _, kind := range enabledKinds(flags) {
			kind := kind
			g.Go(func() error { return h.transport.Enable(gctx, kind) })
		}
		if err := g.Wait(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		if faults.IsCancelled(err) {
			// close in progress; Close reports the terminal status.
			return
		}
		h.state.store(StateDisconnected)
		h.report(context.Background(), statusForError(err, true))
		return
	}

	h.state.store(StateOpen)
	h.report(context.Background(), StatusInfo{
		Status:    StatusConnected,
		Reason:    ReasonConnectionOK,
		Timestamp: nowUTC(),
	})
	h.spawnWatcher()
}

func enabledKinds(flags SubscriptionFlags) []transport.SubscriptionKind {
	var kinds []transport.SubscriptionKind
	if flags.Methods {
		kinds = append(kinds, transport.SubscriptionMethods)
	}
	if flags.Twin {
		kinds = append(kinds, transport.SubscriptionTwin)
	}
	if flags.C2D {
		kinds = append(kinds, transport.SubscriptionC2D)
	}
	if flags.Events {
		kinds = append(kinds, transport.SubscriptionEvents)
	}
	return kinds
}

// watcherSleep waits for d or returns false immediately if ctx is
// cancelled first — the same shape as retryengine's internal sleep, kept
// separate because the watcher sleeps outside of a Retry Engine attempt.
func watcherSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
