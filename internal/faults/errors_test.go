// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package faults_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind      faults.Kind
		transient bool
	}{
		{faults.KindNetwork, true},
		{faults.KindThrottled, true},
		{faults.KindServerBusy, true},
		{faults.KindTimeout, true},
		{faults.KindUnauthorized, false},
		{faults.KindDeviceNotFound, false},
		{faults.KindDeviceDisabled, false},
		{faults.KindArgumentInvalid, false},
		{faults.KindObjectDisposed, false},
		{faults.KindNotOpen, false},
		{faults.KindCancelled, false},
		{faults.KindFatal, false},
	}

	for _, tc := range cases {
		err := faults.New(tc.kind, "boom")
		require.Equal(t, tc.transient, faults.IsTransient(err), tc.kind.String())
	}
}

func TestKindOfUnclassifiedIsFatal(t *testing.T) {
	t.Parallel()

	require.Equal(t, faults.KindFatal, faults.KindOf(errors.New("some panic-ish thing")))
}

func TestNotOpenMessageVariesByCloseHistory(t *testing.T) {
	t.Parallel()

	require.Contains(t, faults.NotOpen(false).Error(), "call open")
	require.Contains(t, faults.NotOpen(true).Error(), "closed")
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: connection refused")
	wrapped := faults.Wrap(faults.KindNetwork, inner, "open failed")

	require.ErrorIs(t, wrapped, inner)
	require.Equal(t, faults.KindNetwork, faults.KindOf(wrapped))

	doubled := fmt.Errorf("handler: %w", wrapped)
	require.Equal(t, faults.KindNetwork, faults.KindOf(doubled))
}

func TestOfFindsErrorInChain(t *testing.T) {
	t.Parallel()

	base := faults.New(faults.KindThrottled, "slow down")
	outer := fmt.Errorf("send: %w", base)

	got, ok := faults.Of(outer)
	require.True(t, ok)
	require.Equal(t, faults.KindThrottled, got.Kind)
}
