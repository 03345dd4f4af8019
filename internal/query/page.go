// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package query implements the Query Cursor (spec.md §4.G): a paginated,
// continuation-token iterator over remote query results, and its Retry
// Wrapper (§4.H).
package query

// Page is one page of results plus the continuation token for the next
// page, if any.
type Page[T any] struct {
	Items             []T
	ContinuationToken *string
}
