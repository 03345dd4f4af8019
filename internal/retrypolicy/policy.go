// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package retrypolicy implements the pluggable retry decision used by the
// retry engine, the session handler, and the query retry wrapper.
//
// A Policy is a pure function `(attempt, error) -> Option<Duration>`,
// represented here as a tagged struct rather than an interface hierarchy:
// dynamic dispatch over variants collapses into one Decide method that
// switches on Kind, and a Custom variant carries a boxed callable for
// callers who need arbitrary logic.
package retrypolicy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Azure/azure-iot-device-go/internal/faults"
)

// Kind identifies which backoff strategy a Policy uses.
type Kind int

const (
	KindExponentialBackoff Kind = iota
	KindFixed
	KindNoRetry
	KindCustom
)

// DecideFunc is the signature used by the Custom policy variant.
type DecideFunc func(attempt uint32, err error) (time.Duration, bool)

// Policy is a stateless, cloneable retry decision. The zero value is not
// valid; construct one with ExponentialBackoff, Fixed, NoRetry, or Custom.
type Policy struct {
	kind Kind

	maxAttempts uint32 // 0 means unlimited attempts

	min   time.Duration
	max   time.Duration
	delta time.Duration

	fixedDelay time.Duration

	custom DecideFunc
}

// shared PRNG: jitter draws happen from many goroutines at once (parallel
// subscription recovery, concurrent sends under retry), so one rng is
// guarded by a mutex rather than handing each Policy its own unsynchronized
// source.
var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitter() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	// uniform in [0.8, 1.2]
	return 0.8 + jitterRng.Float64()*0.4
}

// ExponentialBackoff builds a Policy computing
// delay = clamp(min + delta*2^attempt*jitter, min, max), retrying up to
// maxAttempts times (0 means unlimited attempts, bounded only by
// non-transient errors).
func ExponentialBackoff(maxAttempts uint32, min, max, delta time.Duration) Policy {
	return Policy{
		kind:        KindExponentialBackoff,
		maxAttempts: maxAttempts,
		min:         min,
		max:         max,
		delta:       delta,
	}
}

// Fixed builds a Policy retrying up to maxAttempts times with a constant delay.
func Fixed(maxAttempts uint32, delay time.Duration) Policy {
	return Policy{
		kind:        KindFixed,
		maxAttempts: maxAttempts,
		fixedDelay:  delay,
	}
}

// NoRetry builds a Policy that never retries: the first error is always surfaced.
func NoRetry() Policy {
	return Policy{kind: KindNoRetry}
}

// Custom builds a Policy delegating every decision to fn.
func Custom(fn DecideFunc) Policy {
	return Policy{kind: KindCustom, custom: fn}
}

// Kind reports which variant this Policy is.
func (p Policy) Kind() Kind { return p.kind }

// Decide returns the delay to wait before the next attempt, and whether a
// retry should happen at all. Non-transient errors never retry regardless
// of the variant or remaining attempts.
func (p Policy) Decide(attempt uint32, err error) (time.Duration, bool) {
	if !faults.IsTransient(err) {
		return 0, false
	}

	switch p.kind {
	case KindNoRetry:
		return 0, false

	case KindFixed:
		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			return 0, false
		}
		return p.fixedDelay, true

	case KindExponentialBackoff:
		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			return 0, false
		}
		return p.exponentialDelay(attempt), true

	case KindCustom:
		if p.custom == nil {
			return 0, false
		}
		return p.custom(attempt, err)

	default:
		return 0, false
	}
}

func (p Policy) exponentialDelay(attempt uint32) time.Duration {
	factor := math2Pow(attempt) * jitter()
	// Compare against max in float64 before converting: delta*2^attempt
	// exceeds the range of time.Duration long before the exponent saturates.
	scaled := float64(p.min) + float64(p.delta)*factor
	if scaled > float64(p.max) {
		return clamp(p.max, p.min, p.max)
	}
	return clamp(time.Duration(scaled), p.min, p.max)
}

func math2Pow(attempt uint32) float64 {
	// 2^attempt, guarding against overflow for pathologically large attempt
	// counts by saturating the exponent; no realistic caller retries 1000+ times.
	if attempt > 62 {
		attempt = 62
	}
	return float64(uint64(1) << attempt)
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
