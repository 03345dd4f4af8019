// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session

import "sync/atomic"

// State enumerates the lifecycle of the logical session (spec.md §3).
type State int32

const (
	// StateClosed is the initial state, and terminal after dispose.
	StateClosed State = iota
	StateOpen
	// StateDisconnectedRetrying is transient, set during recovery.
	StateDisconnectedRetrying
	// StateDisconnected is terminal when retries are exhausted.
	StateDisconnected
	// StateDisabled is terminal when the user closed the session.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateDisconnectedRetrying:
		return "DisconnectedRetrying"
	case StateDisconnected:
		return "Disconnected"
	case StateDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// stateCell is an atomic snapshot of State. Reads never block; writes only
// happen while the caller holds openLock (spec.md §5, Shared-resource policy).
type stateCell struct {
	v atomic.Int32
}

func newStateCell(initial State) *stateCell {
	c := &stateCell{}
	c.v.Store(int32(initial))
	return c
}

func (c *stateCell) load() State { return State(c.v.Load()) }

func (c *stateCell) store(s State) { c.v.Store(int32(s)) }
