// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package retryengine drives a fallible operation under a retrypolicy.Policy,
// respecting external cancellation. It is hand-rolled rather than built on
// top of github.com/avast/retry-go (used elsewhere in this module, see
// internal/query/retry.go) because each attempt needs one Policy.Decide
// call yielding both the retry decision and the delay, while retry-go splits
// those across two separate callbacks (RetryIf, DelayType) — see DESIGN.md
// for the full rationale.
package retryengine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
)

// Engine drives an operation until it succeeds, the policy refuses another
// attempt, or the supplied context is cancelled. The policy is
// hot-swappable via SetPolicy and read atomically by Run.
type Engine struct {
	policy atomic.Pointer[retrypolicy.Policy]
}

// New builds an Engine starting with the given policy.
func New(policy retrypolicy.Policy) *Engine {
	e := &Engine{}
	e.SetPolicy(policy)
	return e
}

// SetPolicy hot-swaps the policy used by subsequent Run calls. In-flight
// Run calls keep using the policy snapshot they started with.
func (e *Engine) SetPolicy(policy retrypolicy.Policy) {
	p := policy
	e.policy.Store(&p)
}

// Policy returns the currently active policy.
func (e *Engine) Policy() retrypolicy.Policy {
	if p := e.policy.Load(); p != nil {
		return *p
	}
	return retrypolicy.NoRetry()
}

// Run executes op, retrying per the current policy on transient errors
// until it succeeds, the policy refuses another attempt (the last error is
// returned verbatim), or ctx is cancelled (a faults.Error with
// KindCancelled is returned). Fatal/non-transient errors are never
// retried; they propagate on the first attempt.
func Run[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error)) (T, error) {
	policy := e.Policy()

	var zero T
	var attempt uint32

	for {
		if err := ctx.Err(); err != nil {
			return zero, faults.Wrap(faults.KindCancelled, err, "retry engine cancelled before attempt")
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if faults.IsCancelled(err) {
			return zero, err
		}

		delay, shouldRetry := policy.Decide(attempt, err)
		if !shouldRetry {
			return zero, err
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, faults.Wrap(faults.KindCancelled, err, "retry engine cancelled during backoff")
		}

		attempt++
	}
}

// sleep waits for d or returns ctx.Err() if ctx is cancelled first. It never
// uses time.Sleep so that cancellation wakes it immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
