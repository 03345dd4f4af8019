// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Azure/azure-iot-device-go/internal/faults"
)

const (
	headerContinuation = "x-ms-continuation"
	headerMaxItemCount = "x-ms-max-item-count"
)

// HTTPFetcher is a Fetcher backed by a single HTTP endpoint implementing
// the wire continuation protocol (spec.md §6): the continuation token and
// page size travel as request headers, items come back as a JSON array
// body, and the response's own x-ms-continuation header carries the next
// token — missing or empty means no further pages.
type HTTPFetcher[T any] struct {
	Client *http.Client
	URL    string
}

// Fetch implements Fetcher[T].
func (f HTTPFetcher[T]) Fetch(ctx context.Context, continuation *string, pageSize *int) (Page[T], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Page[T]{}, faults.Wrap(faults.KindFatal, err, "build query request")
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if continuation != nil && *continuation != "" {
		req.Header.Set(headerContinuation, *continuation)
	}
	if pageSize != nil {
		req.Header.Set(headerMaxItemCount, strconv.Itoa(*pageSize))
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Page[T]{}, faults.Wrap(faults.KindNetwork, err, "query request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		kind := HTTPStatusToKind(resp.StatusCode)
		return Page[T]{}, faults.New(kind, fmt.Sprintf("query request returned status %d", resp.StatusCode))
	}

	var items []T
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return Page[T]{}, faults.Wrap(faults.KindFatal, err, "decode query response body")
	}

	page := Page[T]{Items: items}
	if next := resp.Header.Get(headerContinuation); next != "" {
		page.ContinuationToken = &next
	}
	return page, nil
}

// AsFetcher adapts f to the Fetcher[T] function type.
func (f HTTPFetcher[T]) AsFetcher() Fetcher[T] {
	return f.Fetch
}
