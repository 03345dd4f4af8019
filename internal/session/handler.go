// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package session implements the lifecycle state machine, subscription
// bookkeeping, operation gating, and disconnect recovery that make an
// intermittently connected transport look durably connected to the caller
// (spec.md §4.D — the richest piece of engineering in this module).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retryengine"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
	"github.com/Azure/azure-iot-device-go/internal/transport"
	"github.com/Azure/azure-iot-device-go/pkg/devicemodel"
)

// nowUTC is the single time source for status timestamps, kept as a
// variable so tests can substitute a deterministic clock if ever needed.
var nowUTC = func() time.Time { return time.Now().UTC() }

// SubscriptionFlags records, independently per subscription kind, whether
// the user asked for it — and therefore whether it must be re-enabled on
// reconnect. Bookkeeping only; written solely under that kind's lock.
type SubscriptionFlags struct {
	Methods bool
	Twin    bool
	C2D     bool
	Events  bool
}

func (f SubscriptionFlags) get(kind transport.SubscriptionKind) bool {
	switch kind {
	case transport.SubscriptionMethods:
		return f.Methods
	case transport.SubscriptionTwin:
		return f.Twin
	case transport.SubscriptionC2D:
		return f.C2D
	case transport.SubscriptionEvents:
		return f.Events
	default:
		return false
	}
}

func (f *SubscriptionFlags) set(kind transport.SubscriptionKind, v bool) {
	switch kind {
	case transport.SubscriptionMethods:
		f.Methods = v
	case transport.SubscriptionTwin:
		f.Twin = v
	case transport.SubscriptionC2D:
		f.C2D = v
	case transport.SubscriptionEvents:
		f.Events = v
	}
}

// Handler is the Session Handler (component D). Build one with New.
type Handler struct {
	transport transport.Port
	engine    *retryengine.Engine
	reporter  Reporter

	disposed   atomic.Bool
	closedEver atomic.Bool

	state *stateCell

	openLock    *semaphore.Weighted
	methodsLock *semaphore.Weighted
	twinLock    *semaphore.Weighted
	c2dLock     *semaphore.Weighted
	eventsLock  *semaphore.Weighted

	flagsMu sync.Mutex
	flags   SubscriptionFlags

	// cancel_pending: a single cancellation source cancelling every
	// in-flight operation (and every sleeping retry, and any blocked or
	// future Open call) once Close is invoked.
	pendingCtx    context.Context
	cancelPending context.CancelFunc

	watcherWG sync.WaitGroup

	closeOnce sync.Once

	// credentialStop stops the credential refresher attached via
	// WithCredentialRefresher, if any. Called once during Close.
	credentialStop func()
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithRetryPolicy sets the initial retry policy (default: exponential
// backoff, unlimited attempts, 500ms..30s, 500ms delta — overridden via
// SetRetryPolicy at runtime).
func WithRetryPolicy(p retrypolicy.Policy) Option {
	return func(h *Handler) { h.engine.SetPolicy(p) }
}

// WithStatusReporter registers the status callback. Registration is
// immutable after construction (spec.md §5): there is no runtime setter.
func WithStatusReporter(r Reporter) Option {
	return func(h *Handler) { h.reporter = r }
}

// CredentialStarter is satisfied by *credential.Refresher. Exported (rather
// than kept package-private) so internal/credential can spell it as the
// declared return type of the factory it hands to WithCredentialRefresher,
// without internal/session importing internal/credential back (credential
// imports session's Handler/Option to build the other direction of this
// wiring, in credential.Attach).
type CredentialStarter interface {
	Stop()
}

// WithCredentialRefresher attaches a Credential Refresher to this Handler
// so Close stops it. factory receives the Handler under construction — by
// the time Option funcs run, h is already a valid pointer with every field
// set by New, just not yet returned — so factory's refresh hook can close
// over h and call h.RefreshSAS once the refresher actually starts
// refreshing, with no risk of referencing it before it exists. The
// Credential Refresher is created alongside the Session Handler and
// terminated by its Close, per spec.md §3 Lifecycles.
func WithCredentialRefresher(factory func(h *Handler) CredentialStarter) Option {
	return func(h *Handler) { h.credentialStop = factory(h).Stop }
}

// New builds a Handler wrapping port, created Closed (spec.md §3,
// Lifecycles).
func New(port transport.Port, opts ...Option) *Handler {
	pendingCtx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		transport:     port,
		engine:        retryengine.New(defaultPolicy()),
		reporter:      noopReporter,
		state:         newStateCell(StateClosed),
		openLock:      semaphore.NewWeighted(1),
		methodsLock:   semaphore.NewWeighted(1),
		twinLock:      semaphore.NewWeighted(1),
		c2dLock:       semaphore.NewWeighted(1),
		eventsLock:    semaphore.NewWeighted(1),
		pendingCtx:    pendingCtx,
		cancelPending: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func defaultPolicy() retrypolicy.Policy {
	return retrypolicy.ExponentialBackoff(0, 500*time.Millisecond, 30*time.Second, 500*time.Millisecond)
}

// SetRetryPolicy hot-swaps the policy used by subsequent retried operations.
func (h *Handler) SetRetryPolicy(p retrypolicy.Policy) { h.engine.SetPolicy(p) }

// State returns an atomic snapshot of the lifecycle state.
func (h *Handler) State() State { return h.state.load() }

// Flags returns a snapshot of the subscription bookkeeping.
func (h *Handler) Flags() SubscriptionFlags {
	h.flagsMu.Lock()
	defer h.flagsMu.Unlock()
	return h.flags
}

func (h *Handler) report(ctx context.Context, info StatusInfo) {
	if h.reporter != nil {
		h.reporter(ctx, info)
	}
}

func (h *Handler) lockFor(kind transport.SubscriptionKind) *semaphore.Weighted {
	switch kind {
	case transport.SubscriptionMethods:
		return h.methodsLock
	case transport.SubscriptionTwin:
		return h.twinLock
	case transport.SubscriptionC2D:
		return h.c2dLock
	default:
		return h.eventsLock
	}
}

// gate implements the first two steps of the Gate protocol (spec.md §4.D):
// fail fast if disposed or not Open, and otherwise return a context linking
// the caller's cancellation with cancel_pending, plus a release func the
// caller must defer.
func (h *Handler) gate(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if h.disposed.Load() {
		return nil, nil, faults.ObjectDisposed()
	}
	if h.state.load() != StateOpen {
		return nil, nil, faults.NotOpen(h.closedEver.Load())
	}
	joined, release := joinContext(ctx, h.pendingCtx)
	return joined, release, nil
}

// --- Telemetry / methods / twin operations -------------------------------

// SendTelemetry sends a single message through the Gate + Retry Engine.
func (h *Handler) SendTelemetry(ctx context.Context, msg devicemodel.Message) error {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		if err := h.recheckOpen(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, h.transport.SendTelemetry(attemptCtx, msg)
	})
	return err
}

// SendTelemetryBatch sends a batch of messages through the Gate + Retry Engine.
func (h *Handler) SendTelemetryBatch(ctx context.Context, msgs []devicemodel.Message) error {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		if err := h.recheckOpen(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, h.transport.SendTelemetryBatch(attemptCtx, msgs)
	})
	return err
}

// SendMethodResponse replies to a direct-method invocation.
func (h *Handler) SendMethodResponse(ctx context.Context, resp devicemodel.MethodResponse) error {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		if err := h.recheckOpen(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, h.transport.SendMethodResponse(attemptCtx, resp)
	})
	return err
}

// GetTwin retrieves the device twin.
func (h *Handler) GetTwin(ctx context.Context) (devicemodel.TwinProperties, error) {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return devicemodel.TwinProperties{}, err
	}
	defer release()

	return retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (devicemodel.TwinProperties, error) {
		if err := h.recheckOpen(); err != nil {
			return devicemodel.TwinProperties{}, err
		}
		return h.transport.GetTwin(attemptCtx)
	})
}

// UpdateReportedProperties pushes a reported-properties patch, returning
// the resulting twin version.
func (h *Handler) UpdateReportedProperties(ctx context.Context, props devicemodel.TwinProperties) (uint64, error) {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	return retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (uint64, error) {
		if err := h.recheckOpen(); err != nil {
			return 0, err
		}
		return h.transport.UpdateReportedProperties(attemptCtx, props)
	})
}

// RefreshSAS refreshes the SAS-like credential through the Gate + Retry
// Engine, returning the next expiry. It is the refresh hook the Credential
// Refresher (internal/credential) invokes on its own schedule.
func (h *Handler) RefreshSAS(ctx context.Context) (time.Time, error) {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	nextExpiry, err := retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (int64, error) {
		if err := h.recheckOpen(); err != nil {
			return 0, err
		}
		return h.transport.RefreshSAS(attemptCtx)
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(nextExpiry, 0).UTC(), nil
}

func (h *Handler) recheckOpen() error {
	if h.disposed.Load() {
		return faults.ObjectDisposed()
	}
	if h.state.load() != StateOpen {
		return faults.NotOpen(h.closedEver.Load())
	}
	return nil
}

// --- Subscription toggles -------------------------------------------------

func (h *Handler) EnableMethods(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionMethods, true)
}
func (h *Handler) DisableMethods(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionMethods, false)
}
func (h *Handler) EnableTwin(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionTwin, true)
}
func (h *Handler) DisableTwin(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionTwin, false)
}
func (h *Handler) EnableC2D(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionC2D, true)
}
func (h *Handler) DisableC2D(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionC2D, false)
}
func (h *Handler) EnableEvents(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionEvents, true)
}
func (h *Handler) DisableEvents(ctx context.Context) error {
	return h.toggle(ctx, transport.SubscriptionEvents, false)
}

// toggle implements the subscription toggle protocol (spec.md §4.D): Gate,
// acquire the kind-specific lock, call transport, flip the flag only on
// success, release the lock. A failed enable/disable never mutates the
// flag (invariant #2).
func (h *Handler) toggle(ctx context.Context, kind transport.SubscriptionKind, enable bool) error {
	gated, release, err := h.gate(ctx)
	if err != nil {
		return err
	}
	defer release()

	lock := h.lockFor(kind)

	_, err = retryengine.Run(gated, h.engine, func(attemptCtx context.Context) (struct{}, error) {
		if err := lock.Acquire(attemptCtx, 1); err != nil {
			return struct{}{}, faults.Wrap(faults.KindCancelled, err, "subscription lock acquire cancelled")
		}
		defer lock.Release(1)

		// Gate step 2 is re-checked after acquiring the subscription lock.
		if err := h.recheckOpen(); err != nil {
			return struct{}{}, err
		}

		var opErr error
		if enable {
			opErr = h.transport.Enable(attemptCtx, kind)
		} else {
			opErr = h.transport.Disable(attemptCtx, kind)
		}
		if opErr != nil {
			return struct{}{}, opErr
		}

		h.flagsMu.Lock()
		h.flags.set(kind, enable)
		h.flagsMu.Unlock()
		return struct{}{}, nil
	})
	return err
}
