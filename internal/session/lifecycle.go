// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session

import (
	"context"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retryengine"
)

// Open transitions the session Closed→Open (spec.md §4.D, Open protocol).
// It is idempotent: calling Open while already Open succeeds without a
// second transport.Open. Re-opening after Close has been called is
// forbidden (Open Question (c)): a fresh Handler must be constructed.
func (h *Handler) Open(ctx context.Context) error {
	if h.disposed.Load() {
		return faults.ObjectDisposed()
	}
	if h.state.load() == StateOpen {
		return nil
	}
	if h.closedEver.Load() {
		return faults.New(faults.KindObjectDisposed, "session was closed; construct a new client")
	}

	joined, release := joinContext(ctx, h.pendingCtx)
	defer release()

	if err := h.openLock.Acquire(joined, 1); err != nil {
		return faults.Wrap(faults.KindCancelled, err, "open cancelled waiting for open lock")
	}
	defer h.openLock.Release(1)

	// Re-check after acquiring openLock: another goroutine may have opened
	// concurrently while we were waiting.
	if h.state.load() == StateOpen {
		return nil
	}
	if h.closedEver.Load() {
		return faults.New(faults.KindObjectDisposed, "session was closed; construct a new client")
	}

	_, err := retryengine.Run(joined, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		return struct{}{}, h.transport.Open(attemptCtx)
	})
	if err != nil {
		h.report(ctx, statusForError(err, true))
		return err
	}

	h.state.store(StateOpen)
	h.report(ctx, StatusInfo{Status: StatusConnected, Reason: ReasonConnectionOK, Timestamp: nowUTC()})
	h.spawnWatcher()
	return nil
}

// Close transitions any live state to Disabled, cancelling every in-flight
// operation and sleeping retry, then tears the transport down and stops
// the credential refresher. Close is idempotent.
func (h *Handler) Close(ctx context.Context) error {
	var closeErr error
	h.closeOnce.Do(func() {
		h.closedEver.Store(true)

		// Teardown is cancel, then drain, then drop (DESIGN NOTES (b)):
		// cancel cancel_pending first — this fails every in-flight
		// operation/backoff sleep and wakes the disconnect watcher's
		// WaitForTransportClosed with a context error (graceful close) —
		// then wait for every watcher generation to actually exit before
		// dropping the transport, so no recovery attempt races the
		// upcoming transport.Close call.
		h.cancelPending()
		h.watcherWG.Wait()

		// Every watcher has exited and any Open holding openLock has been
		// cancelled, so this acquire returns promptly; it keeps the state
		// write below under openLock like every other one.
		_ = h.openLock.Acquire(context.Background(), 1)
		defer h.openLock.Release(1)

		closeErr = h.transport.Close(ctx)

		h.state.store(StateDisabled)
		h.report(ctx, StatusInfo{Status: StatusDisabled, Reason: ReasonClientClosed, Timestamp: nowUTC()})

		if h.credentialStop != nil {
			h.credentialStop()
		}
	})
	return closeErr
}

// Dispose releases every held primitive. It is idempotent and safe to call
// multiple times or after Close.
func (h *Handler) Dispose(ctx context.Context) {
	if h.disposed.Swap(true) {
		return
	}
	_ = h.Close(ctx)

	// Close leaves the session Disabled; dispose makes it terminally Closed.
	_ = h.openLock.Acquire(context.Background(), 1)
	h.state.store(StateClosed)
	h.openLock.Release(1)
}
