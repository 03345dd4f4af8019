// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package query

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
)

// NewRetryingFetcher wraps raw, applying policy to every page fetch (spec.md
// §4.H) via avast/retry-go rather than the hand-rolled Retry Engine: a page
// fetch is a single non-streaming call with no sleeping-under-lock or
// hot-swap requirement, exactly the shape retry-go's RetryIf/DelayType
// callbacks were built for.
func NewRetryingFetcher[T any](raw Fetcher[T], policy retrypolicy.Policy) Fetcher[T] {
	return func(ctx context.Context, continuation *string, pageSize *int) (Page[T], error) {
		var page Page[T]
		// attempt tracks how many attempts have already failed; RetryIf
		// reads it before DelayType advances it, so both see the same
		// attempt index for a given failure, matching retryengine.Run's
		// own attempt/Decide pairing.
		var attempt uint32

		err := retry.Do(
			func() error {
				p, err := raw(ctx, continuation, pageSize)
				if err != nil {
					return err
				}
				page = p
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(math.MaxUint32),
			retry.RetryIf(func(err error) bool {
				_, shouldRetry := policy.Decide(attempt, err)
				return shouldRetry
			}),
			retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
				delay, _ := policy.Decide(attempt, err)
				attempt++
				return delay
			}),
			retry.LastErrorOnly(true),
		)
		return page, err
	}
}

// HTTPStatusToKind implements the wire-level transient mapping from
// spec.md §4.H: 408/429/5xx are transient, 401 is BadCredential, 403/404
// are non-transient identity/permission failures.
func HTTPStatusToKind(status int) faults.Kind {
	switch {
	case status == http.StatusRequestTimeout:
		return faults.KindTimeout
	case status == http.StatusTooManyRequests:
		return faults.KindThrottled
	case status >= 500:
		return faults.KindServerBusy
	case status == http.StatusUnauthorized:
		return faults.KindUnauthorized
	case status == http.StatusForbidden:
		return faults.KindDeviceDisabled
	case status == http.StatusNotFound:
		return faults.KindDeviceNotFound
	default:
		return faults.KindFatal
	}
}
