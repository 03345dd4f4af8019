// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package credential implements the SAS-like credential refresh loop
// (spec.md §4.E): given an initial oauth2.Token, it sleeps until the token
// expires, invokes the session handler's refresh hook, and repeats with the
// token the hook returns. It runs independently of the Session Handler's
// open/closed state — a refresh attempted while the session isn't Open
// simply fails like any other gated operation and is retried after a short
// pause.
package credential

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/Azure/azure-iot-device-go/internal/faults"
	"github.com/Azure/azure-iot-device-go/internal/session"
)

// RefreshFunc refreshes the credential and returns the token it renews to.
// A faults.Error-classified failure propagates through the Session
// Handler's own Retry Engine before this func ever returns an error.
type RefreshFunc func(ctx context.Context) (*oauth2.Token, error)

// retryPause bounds how often the loop retries after a refresh failure
// that isn't itself a cancellation, so a persistently closed session
// doesn't spin a busy loop of failed refresh attempts.
const retryPause = 5 * time.Second

// Refresher drives the background refresh loop. Build one with Start or
// Attach.
type Refresher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the refresh loop in its own goroutine and returns
// immediately. Stop must be called to terminate it cleanly.
func Start(ctx context.Context, initial *oauth2.Token, refresh RefreshFunc) *Refresher {
	loopCtx, cancel := context.WithCancel(ctx)
	r := &Refresher{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop(loopCtx, initial, refresh)
	return r
}

// Attach builds a session.Option that starts a Credential Refresher driven
// by the Handler's own RefreshSAS, wired so Close stops it (spec.md §3
// Lifecycles). sas is a placeholder credential string carried on the
// returned token's AccessToken field: the Session Handler's RefreshSAS
// only surfaces the next expiry, not the rotated secret itself (that stays
// inside the transport), so there is nothing else to put there.
func Attach(ctx context.Context, initial *oauth2.Token, sas string) session.Option {
	return session.WithCredentialRefresher(func(h *session.Handler) session.CredentialStarter {
		return Start(ctx, initial, func(rctx context.Context) (*oauth2.Token, error) {
			nextExpiry, err := h.RefreshSAS(rctx)
			if err != nil {
				return nil, err
			}
			return NewToken(sas, nextExpiry), nil
		})
	})
}

func (r *Refresher) loop(ctx context.Context, token *oauth2.Token, refresh RefreshFunc) {
	defer close(r.done)

	for {
		if token != nil && token.AccessToken != "" {
			if wait := time.Until(token.Expiry); wait > 0 {
				if !sleep(ctx, wait) {
					return
				}
			}
		}
		// An invalid token (nil, empty, or already expired) is refreshed
		// immediately rather than waited on.

		next, err := refresh(ctx)
		if err != nil {
			if faults.IsCancelled(err) || ctx.Err() != nil {
				return
			}
			// Transient/gate failures (e.g. NotOpen while the transport is
			// mid-reconnect) are retried after a short pause rather than
			// busy-looping; the refresh call's own Retry Engine already
			// absorbed transient network errors before returning here.
			if !sleep(ctx, retryPause) {
				return
			}
			continue
		}

		token = next
	}
}

// sleep waits for d or returns false immediately if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop cancels the loop and blocks until it has exited.
func (r *Refresher) Stop() {
	r.cancel()
	<-r.done
}
