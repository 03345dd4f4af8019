// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package session

import "context"

// joinContext returns a context Done as soon as either a or b is Done,
// and a release func the caller must call once finished with it to stop
// the background AfterFunc watching b. This is the "linked cancel-source"
// the gate protocol derives for every call: one leg is the caller's own
// context, the other is the session's cancel_pending.
func joinContext(a, b context.Context) (context.Context, context.CancelFunc) {
	joined, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}
