// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package retrypolicy_test

import (
	"testing"
	"time"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
	"github.com/stretchr/testify/require"
)

func networkErr() error { return faults.New(faults.KindNetwork, "boom") }

func TestNoRetryNeverRetries(t *testing.T) {
	t.Parallel()

	p := retrypolicy.NoRetry()
	_, retry := p.Decide(0, networkErr())
	require.False(t, retry)
}

func TestNonTransientNeverRetriesRegardlessOfPolicy(t *testing.T) {
	t.Parallel()

	policies := []retrypolicy.Policy{
		retrypolicy.ExponentialBackoff(5, 10*time.Millisecond, time.Second, 10*time.Millisecond),
		retrypolicy.Fixed(5, 10*time.Millisecond),
	}

	nonTransient := []error{
		faults.New(faults.KindUnauthorized, "x"),
		faults.New(faults.KindDeviceDisabled, "x"),
		faults.New(faults.KindDeviceNotFound, "x"),
		faults.New(faults.KindArgumentInvalid, "x"),
		faults.New(faults.KindObjectDisposed, "x"),
		faults.New(faults.KindFatal, "x"),
	}

	for _, p := range policies {
		for _, err := range nonTransient {
			_, retry := p.Decide(0, err)
			require.False(t, retry)
		}
	}
}

func TestFixedRespectsMaxAttempts(t *testing.T) {
	t.Parallel()

	p := retrypolicy.Fixed(2, 10*time.Millisecond)

	d, retry := p.Decide(0, networkErr())
	require.True(t, retry)
	require.Equal(t, 10*time.Millisecond, d)

	_, retry = p.Decide(1, networkErr())
	require.True(t, retry)

	_, retry = p.Decide(2, networkErr())
	require.False(t, retry, "attempts exhausted at maxAttempts")
}

func TestExponentialBackoffClamps(t *testing.T) {
	t.Parallel()

	min := 10 * time.Millisecond
	max := 200 * time.Millisecond
	p := retrypolicy.ExponentialBackoff(50, min, max, 10*time.Millisecond)

	for attempt := uint32(0); attempt < 20; attempt++ {
		d, retry := p.Decide(attempt, networkErr())
		require.True(t, retry)
		require.GreaterOrEqual(t, d, min)
		require.LessOrEqual(t, d, max)
	}
}

func TestExponentialBackoffExhaustsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	p := retrypolicy.ExponentialBackoff(3, time.Millisecond, time.Second, time.Millisecond)

	for attempt := uint32(0); attempt < 3; attempt++ {
		_, retry := p.Decide(attempt, networkErr())
		require.True(t, retry)
	}
	_, retry := p.Decide(3, networkErr())
	require.False(t, retry)
}

func TestUnlimitedAttemptsWhenMaxAttemptsZero(t *testing.T) {
	t.Parallel()

	p := retrypolicy.Fixed(0, time.Millisecond)
	_, retry := p.Decide(1000, networkErr())
	require.True(t, retry)
}

func TestCustomPolicyDelegatesFully(t *testing.T) {
	t.Parallel()

	calls := 0
	p := retrypolicy.Custom(func(attempt uint32, err error) (time.Duration, bool) {
		calls++
		if attempt == 0 {
			return 0, false
		}
		return time.Millisecond, true
	})

	_, retry := p.Decide(0, networkErr())
	require.False(t, retry)

	_, retry = p.Decide(1, networkErr())
	require.True(t, retry)

	require.Equal(t, 2, calls)
}
