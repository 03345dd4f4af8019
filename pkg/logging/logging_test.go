// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logging_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-iot-device-go/internal/session"
	"github.com/Azure/azure-iot-device-go/pkg/logging"
)

func TestApplyAddsFileDestinationAndWritesJSON(t *testing.T) {
	t.Parallel()

	m := logging.New()
	logPath := filepath.Join(t.TempDir(), "device.log")
	require.NoError(t, m.Apply("debug", logPath, 1, 1))

	m.Logger().Info().Msg("hello")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && bytes.Contains(data, []byte("hello"))
	}, time.Second, 10*time.Millisecond)
}

func TestApplyRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	m := logging.New()
	err := m.Apply("not-a-level", "", 0, 0)
	require.Error(t, err)
}

func TestStatusReporterLogsWarnOnDisconnected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	reporter := logging.StatusReporter(logger)

	reporter(context.Background(), session.StatusInfo{
		Status:    session.StatusDisconnected,
		Reason:    session.ReasonRetryExpired,
		Timestamp: time.Now(),
	})

	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), "RetryExpired")
}
