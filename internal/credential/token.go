// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package credential

import (
	"time"

	"golang.org/x/oauth2"
)

// NewToken represents a SAS-like credential as an oauth2.Token: its
// AccessToken field carries the opaque SAS string, and Expiry/Valid()
// reuse oauth2's time-bounded-credential bookkeeping verbatim rather than
// hand-rolling an expiry wrapper — a SAS token and a bearer token share
// the same "opaque string + expiry" shape.
func NewToken(sas string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: sas,
		TokenType:   "SharedAccessSignature",
		Expiry:      expiry,
	}
}

// ExpiresWithin reports whether t will expire within skew of now, so a
// caller surfacing credential state (e.g. the CLI) can warn ahead of the
// refresher's own scheduled refresh.
func ExpiresWithin(t *oauth2.Token, skew time.Duration) bool {
	if t == nil || t.Expiry.IsZero() {
		return false
	}
	return !t.Expiry.After(time.Now().Add(skew))
}
