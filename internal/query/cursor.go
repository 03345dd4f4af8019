// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package query

import "context"

// Fetcher fetches one page given an optional continuation token and an
// optional page size. A nil continuation requests the first page.
type Fetcher[T any] func(ctx context.Context, continuation *string, pageSize *int) (Page[T], error)

// Cursor is the Query Cursor (spec.md §4.G). It is not thread-safe: callers
// serialize their own access, matching §4.G exactly.
type Cursor[T any] struct {
	fetch    Fetcher[T]
	pageSize *int

	page         []T
	index        int
	continuation *string

	current T
	started bool
	done    bool
}

// New builds a Cursor. initial, if non-nil, seeds the first page so the
// first MoveNext call consumes it without fetching.
func New[T any](fetch Fetcher[T], pageSize *int, initial *Page[T]) *Cursor[T] {
	c := &Cursor[T]{fetch: fetch, pageSize: pageSize}
	if initial != nil {
		c.page = initial.Items
		c.continuation = initial.ContinuationToken
	} else {
		// force the first MoveNext to fetch.
		c.index = 0
		c.page = nil
		first := ""
		c.continuation = &first
		c.started = false
	}
	return c
}

// MoveNext advances to the next item (spec.md §4.G). It returns false,
// permanently, once the current page is exhausted and there is no further
// continuation token — calling it again issues no further fetches.
func (c *Cursor[T]) MoveNext(ctx context.Context) (bool, error) {
	if c.done {
		return false, nil
	}

	if c.index < len(c.page) {
		c.current = c.page[c.index]
		c.index++
		c.started = true
		return true, nil
	}

	// The first page (when no initial page was supplied) is represented by
	// a placeholder non-nil, empty-string continuation so this branch
	// fetches it; every subsequent fetch uses the token the server returned.
	if c.continuation == nil {
		c.done = true
		return false, nil
	}
	token := c.continuation
	if *token == "" {
		token = nil
	}

	page, err := c.fetch(ctx, token, c.pageSize)
	if err != nil {
		return false, err
	}

	c.page = page.Items
	c.index = 0
	c.continuation = page.ContinuationToken

	if len(c.page) == 0 {
		if c.continuation != nil && *c.continuation != "" {
			// An empty page that still carries a continuation token does not
			// end the query: fetch the page the token points to.
			return c.MoveNext(ctx)
		}
		c.done = true
		return false, nil
	}

	c.current = c.page[0]
	c.index = 1
	c.started = true
	return true, nil
}

// Current returns the last item returned by MoveNext. Its value is
// undefined before the first successful MoveNext, matching spec.md §4.G.
func (c *Cursor[T]) Current() T { return c.current }

// ContinuationToken returns the token that will be used for the next
// fetch, or nil if no further pages remain.
func (c *Cursor[T]) ContinuationToken() *string { return c.continuation }

// CurrentPage returns the items of the page MoveNext is currently
// iterating over.
func (c *Cursor[T]) CurrentPage() []T { return c.page }

// Pages lazily yields entire Page[T] values until the continuation token
// is exhausted (§4.G's optional as_pages()).
func (c *Cursor[T]) Pages(ctx context.Context) func(yield func(Page[T], error) bool) {
	return func(yield func(Page[T], error) bool) {
		token := c.continuation
		for {
			var t *string
			if token != nil && *token != "" {
				t = token
			}
			page, err := c.fetch(ctx, t, c.pageSize)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.ContinuationToken == nil {
				return
			}
			token = page.ContinuationToken
		}
	}
}
