// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Azure/azure-iot-device-go/internal/query"
	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
)

// newQueryCmd builds the "query" subcommand: it walks every page of an
// HTTP endpoint implementing the wire continuation protocol (spec.md §6)
// and prints each item as JSON, one per line.
func newQueryCmd() *cobra.Command {
	var url string
	var pageSize int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Walk every page of an HTTP query endpoint and print the items",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := query.HTTPFetcher[json.RawMessage]{URL: url}.AsFetcher()
			fetch := query.NewRetryingFetcher(raw, retrypolicy.ExponentialBackoff(5, 200*time.Millisecond, 5*time.Second, 200*time.Millisecond))

			var size *int
			if pageSize > 0 {
				size = &pageSize
			}
			cursor := query.New(fetch, size, nil)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for {
				ok, err := cursor.MoveNext(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				fmt.Println(string(cursor.Current()))
			}
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "query endpoint URL")
	cmd.Flags().IntVar(&pageSize, "pageSize", 0, "requested page size (0 = server default)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
