// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package transport defines the abstract capability exposed by an
// underlying wire session (MQTT/AMQP-style). Implementations live outside
// this module's scope (spec.md §1, Out of scope) except for the in-memory
// transporttest stub used by this module's own tests.
package transport

import (
	"context"

	"github.com/Azure/azure-iot-device-go/pkg/devicemodel"
)

// SubscriptionKind enumerates the subscription streams a Port can toggle.
type SubscriptionKind int

const (
	SubscriptionMethods SubscriptionKind = iota
	SubscriptionTwin
	SubscriptionC2D
	SubscriptionEvents
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubscriptionMethods:
		return "methods"
	case SubscriptionTwin:
		return "twin"
	case SubscriptionC2D:
		return "c2d_messages"
	case SubscriptionEvents:
		return "events"
	default:
		return "unknown"
	}
}

// Port is the abstract capability a Session Handler delegates to. No retry
// or lifecycle logic lives here: every method either succeeds or fails
// with a classified *faults.Error.
type Port interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	SendTelemetry(ctx context.Context, msg devicemodel.Message) error
	SendTelemetryBatch(ctx context.Context, msgs []devicemodel.Message) error
	SendMethodResponse(ctx context.Context, resp devicemodel.MethodResponse) error

	Enable(ctx context.Context, kind SubscriptionKind) error
	Disable(ctx context.Context, kind SubscriptionKind) error

	GetTwin(ctx context.Context) (devicemodel.TwinProperties, error)
	UpdateReportedProperties(ctx context.Context, props devicemodel.TwinProperties) (version uint64, err error)

	RefreshSAS(ctx context.Context) (nextExpiry int64, err error) // unix seconds

	// WaitForTransportClosed blocks until the transport closes
	// unexpectedly (returns nil) or ctx is cancelled for a graceful close
	// (returns ctx.Err(); the caller treats any non-nil result as a graceful
	// close).
	WaitForTransportClosed(ctx context.Context) error
}
