// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command devicectl is a small harness that exercises the Session Handler
// and Query Cursor end-to-end against local stub and HTTP fixtures, for
// manual smoke-testing of this module (spec.md's component K).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
