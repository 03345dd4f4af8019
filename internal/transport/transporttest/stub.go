// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package transporttest provides an in-memory transport.Port used by the
// session handler's own tests, and exported so a caller's integration
// tests can drive the handler without a real MQTT broker.
package transporttest

import (
	"context"
	"sync"

	"github.com/Azure/azure-iot-device-go/internal/transport"
	"github.com/Azure/azure-iot-device-go/pkg/devicemodel"
)

// Call records one invocation against the stub, in the order observed, for
// assertions like "transport call log contains in order: open,
// enable_methods, enable_twin, open, {enable_methods, enable_twin}".
type Call struct {
	Op   string
	Kind transport.SubscriptionKind // only meaningful for Enable/Disable
}

// Stub is a scriptable transport.Port. Each op has a queue of results; a
// call beyond the queue's length reuses the queue's last entry (or
// succeeds, if nothing was ever scripted for that op).
type Stub struct {
	mu sync.Mutex

	results map[string][]error
	calls   []Call

	closedCh       chan struct{}
	closedGraceful bool

	twin    devicemodel.TwinProperties
	version uint64
	expiry  int64
}

// New builds a Stub that succeeds on every call until scripted otherwise.
func New() *Stub {
	return &Stub{
		results:  make(map[string][]error),
		closedCh: make(chan struct{}),
	}
}

// ScriptOpen queues results for successive Open calls.
func (s *Stub) ScriptOpen(errs ...error) { s.script("open", errs) }

// ScriptEnable queues results for successive Enable(kind) calls.
func (s *Stub) ScriptEnable(kind transport.SubscriptionKind, errs ...error) {
	s.script(enableOp(kind), errs)
}

// ScriptSend queues results for successive SendTelemetry calls.
func (s *Stub) ScriptSend(errs ...error) { s.script("send", errs) }

// ScriptRefreshSAS queues results for successive RefreshSAS calls.
func (s *Stub) ScriptRefreshSAS(errs ...error) { s.script("refreshSAS", errs) }

func enableOp(kind transport.SubscriptionKind) string { return "enable:" + kind.String() }

func (s *Stub) script(op string, errs []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[op] = append(s.results[op], errs...)
}

// record appends a Call and pops (without fully consuming) the next
// scripted result for op.
func (s *Stub) record(op string, kind transport.SubscriptionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: op, Kind: kind})

	q := s.results[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	if len(q) > 1 {
		s.results[op] = q[1:]
	}
	return err
}

// Calls returns a snapshot of every call observed so far, in order.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Open records the call and, on success, re-arms the closed-signal so a
// subsequent disconnect can be observed again: a successful (re)open models
// a reconnected, healthy transport, not a transport that is already closed.
// Without this, recovery from an unexpected close would never quiesce — the
// newly spawned watcher would read the same latched signal and immediately
// begin a second, needless recovery.
func (s *Stub) Open(ctx context.Context) error {
	err := s.record("open", 0)
	if err == nil {
		s.Reopen()
	}
	return err
}

func (s *Stub) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closedGraceful {
		s.closedGraceful = true
		close(s.closedCh)
	}
	s.mu.Unlock()
	return s.record("close", 0)
}

func (s *Stub) SendTelemetry(ctx context.Context, msg devicemodel.Message) error {
	return s.record("send", 0)
}

func (s *Stub) SendTelemetryBatch(ctx context.Context, msgs []devicemodel.Message) error {
	return s.record("sendBatch", 0)
}

func (s *Stub) SendMethodResponse(ctx context.Context, resp devicemodel.MethodResponse) error {
	return s.record("methodResponse", 0)
}

func (s *Stub) Enable(ctx context.Context, kind transport.SubscriptionKind) error {
	return s.record(enableOp(kind), kind)
}

func (s *Stub) Disable(ctx context.Context, kind transport.SubscriptionKind) error {
	return s.record("disable:"+kind.String(), kind)
}

func (s *Stub) GetTwin(ctx context.Context) (devicemodel.TwinProperties, error) {
	err := s.record("getTwin", 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.twin, err
}

func (s *Stub) UpdateReportedProperties(ctx context.Context, props devicemodel.TwinProperties) (uint64, error) {
	err := s.record("updateReportedProperties", 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.version++
	return s.version, nil
}

func (s *Stub) RefreshSAS(ctx context.Context) (int64, error) {
	err := s.record("refreshSAS", 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.expiry, nil
}

// SetNextExpiry configures the expiry RefreshSAS will report next.
func (s *Stub) SetNextExpiry(unixSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry = unixSeconds
}

// WaitForTransportClosed blocks until TriggerUnexpectedClose is called
// (returns nil) or ctx is done / a graceful Close happened (returns
// ctx.Err(), signalling a graceful close to the caller).
func (s *Stub) WaitForTransportClosed(ctx context.Context) error {
	select {
	case <-s.closedCh:
		s.mu.Lock()
		graceful := s.closedGraceful
		s.mu.Unlock()
		if graceful {
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerUnexpectedClose simulates the transport dropping without a
// preceding graceful Close call.
func (s *Stub) TriggerUnexpectedClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedGraceful {
		return
	}
	select {
	case <-s.closedCh:
	default:
		close(s.closedCh)
	}
}

// Reopen resets the closed-signal channel so the stub can be reused across
// a simulated reconnect within a single test. Open calls this itself on
// every successful call, so tests rarely need to call it directly; it
// remains exported for a test that wants to re-arm the signal without
// going through a full Open call.
func (s *Stub) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedGraceful = false
	s.closedCh = make(chan struct{})
}

var _ transport.Port = (*Stub)(nil)
