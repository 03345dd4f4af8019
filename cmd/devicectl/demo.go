// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Azure/azure-iot-device-go/internal/credential"
	"github.com/Azure/azure-iot-device-go/internal/session"
	"github.com/Azure/azure-iot-device-go/internal/transport/transporttest"
	"github.com/Azure/azure-iot-device-go/pkg/devicemodel"
	"github.com/Azure/azure-iot-device-go/pkg/logging"
)

// demoCredentialSkew is how far ahead of expiry this command warns that the
// initial credential is already stale, purely to give ExpiresWithin a
// caller outside of its own package's tests.
const demoCredentialSkew = time.Minute

// newDemoCmd builds the "demo" subcommand: it drives a Session Handler
// against the in-memory stub transport through open, a telemetry send, an
// unexpected disconnect, and recovery, logging every status transition
// under a per-run correlation ID.
func newDemoCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the session handler against an in-memory stub transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.New().String()
			logger := state.logs.Logger().With().
				Str("runId", runID).
				Str("deviceId", state.settings.DeviceID).
				Str("hostName", state.settings.HostName).
				Logger()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			stub := transporttest.New()
			stub.SetNextExpiry(time.Now().Add(time.Hour).Unix())

			initialToken := credential.NewToken(runID, time.Now().Add(200*time.Millisecond))
			if credential.ExpiresWithin(initialToken, demoCredentialSkew) {
				logger.Warn().Msg("initial credential already within the refresh skew window")
			}

			h := session.New(stub,
				session.WithStatusReporter(logging.StatusReporter(logger)),
				session.WithRetryPolicy(state.settings.RetryPolicy()),
				credential.Attach(ctx, initialToken, runID),
			)

			logger.Info().Msg("opening session")
			if err := h.Open(ctx); err != nil {
				return err
			}

			if err := h.EnableMethods(ctx); err != nil {
				return err
			}

			if err := h.SendTelemetry(ctx, devicemodel.Message{ID: runID, Body: []byte(`{"demo":true}`)}); err != nil {
				return err
			}
			logger.Info().Msg("telemetry sent")

			logger.Info().Msg("simulating an unexpected transport close")
			stub.TriggerUnexpectedClose()

			deadline := time.Now().Add(5 * time.Second)
			// Wait for the watcher to notice the close before waiting for
			// the recovered Open state.
			for h.State() == session.StateOpen && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			for h.State() != session.StateOpen && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			logger.Info().Str("state", h.State().String()).Msg("recovery settled")

			return h.Close(ctx)
		},
	}
}
