// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session

import (
	"context"
	"time"

	"github.com/Azure/azure-iot-device-go/internal/faults"
)

// Status is the connection-status half of a ConnectionStatusInfo.
type Status int

const (
	StatusConnected Status = iota
	StatusDisconnectedRetrying
	StatusDisconnected
	StatusClosed
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnectedRetrying:
		return "DisconnectedRetrying"
	case StatusDisconnected:
		return "Disconnected"
	case StatusClosed:
		return "Closed"
	case StatusDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// Reason is the cause half of a ConnectionStatusInfo.
type Reason int

const (
	ReasonConnectionOK Reason = iota
	ReasonCommunicationError
	ReasonRetryExpired
	ReasonClientClosed
	ReasonBadCredential
	ReasonDeviceDisabled
)

func (r Reason) String() string {
	switch r {
	case ReasonConnectionOK:
		return "ConnectionOk"
	case ReasonCommunicationError:
		return "CommunicationError"
	case ReasonRetryExpired:
		return "RetryExpired"
	case ReasonClientClosed:
		return "ClientClosed"
	case ReasonBadCredential:
		return "BadCredential"
	case ReasonDeviceDisabled:
		return "DeviceDisabled"
	default:
		return "Unknown"
	}
}

// StatusInfo is one connection-status transition.
type StatusInfo struct {
	Status    Status
	Reason    Reason
	Timestamp time.Time
}

// Reporter delivers connection-status transitions to the application. It
// must not re-enter the Session Handler: it may be invoked while the
// handler holds openLock or a subscription lock, and re-entrant calls into
// the handler from within the callback will deadlock.
type Reporter func(ctx context.Context, info StatusInfo)

// noopReporter is used when the caller does not supply one.
func noopReporter(context.Context, StatusInfo) {}

// statusForError implements the §4.F error→status mapping table.
//
//   - Transient, retries remain: DisconnectedRetrying / CommunicationError.
//   - Transient, exhausted: Disconnected / RetryExpired.
//   - Unauthorized: reason BadCredential.
//   - DeviceNotFound/Disabled: reason DeviceDisabled.
//   - Default on other non-transient: Disconnected / CommunicationError.
func statusForError(err error, retriesExhausted bool) StatusInfo {
	now := nowUTC()
	kind := faults.KindOf(err)

	switch kind {
	case faults.KindNetwork, faults.KindThrottled, faults.KindServerBusy, faults.KindTimeout:
		if retriesExhausted {
			return StatusInfo{Status: StatusDisconnected, Reason: ReasonRetryExpired, Timestamp: now}
		}
		return StatusInfo{Status: StatusDisconnectedRetrying, Reason: ReasonCommunicationError, Timestamp: now}

	case faults.KindUnauthorized:
		return StatusInfo{Status: StatusDisconnected, Reason: ReasonBadCredential, Timestamp: now}

	case faults.KindDeviceNotFound, faults.KindDeviceDisabled:
		return StatusInfo{Status: StatusDisconnected, Reason: ReasonDeviceDisabled, Timestamp: now}

	default:
		return StatusInfo{Status: StatusDisconnected, Reason: ReasonCommunicationError, Timestamp: now}
	}
}
