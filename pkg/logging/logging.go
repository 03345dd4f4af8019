// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package logging provides the single trace sink consumed by the rest of
// this module (spec.md §6: "Logging is via a single trace hook"). It
// mirrors the teacher's LogManager: a zerolog logger writing through a
// swappable writer so the log level and destination can be reconfigured at
// runtime without racing concurrent log calls.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Azure/azure-iot-device-go/internal/session"
)

// switchableWriter lets Apply swap the underlying writer (e.g. to add or
// remove a file rotator) without mutating the zerolog.Logger itself —
// zerolog holds this writer for the lifetime of the process, so
// reconfiguration never races an in-flight log call the way replacing
// log.Logger outright would.
type switchableWriter struct {
	mu  sync.Mutex
	w   io.Writer
	gen int
}

func newSwitchableWriter(base io.Writer) *switchableWriter {
	return &switchableWriter{w: base}
}

func (s *switchableWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	return w.Write(p)
}

// swap installs w as the new destination. Closing a previous rotator is
// left to the caller (Manager.Apply).
func (s *switchableWriter) swap(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
	s.gen++
}

// Manager owns the process-wide logger and its destination, with safe
// runtime reconfiguration (spec.md ambient stack: logging).
type Manager struct {
	mu         sync.Mutex
	switchable *switchableWriter
	logger     zerolog.Logger
	rotator    io.Closer
}

// New builds a Manager logging to stderr in console form at Info level
// until Apply is called.
func New() *Manager {
	base := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	switchable := newSwitchableWriter(base)
	logger := zerolog.New(switchable).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	return &Manager{switchable: switchable, logger: logger}
}

// Logger returns the current logger. Safe to retain: log calls pass
// through the switchable writer, so a destination change made by Apply
// takes effect for every subsequent call. A level change made by Apply
// applies only to Logger() values obtained after it.
func (m *Manager) Logger() zerolog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

// Apply reconfigures the level and, if logPath is non-empty, adds a
// size/backup-bounded rotating file destination alongside the console
// writer. Safe to call concurrently with logging from other goroutines.
func (m *Manager) Apply(level string, logPath string, maxSizeMB, maxBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	m.logger = m.logger.Level(lvl)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if logPath == "" {
		m.switchable.swap(console)
		m.closeRotator()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return fmt.Errorf("create log directory for %s: %w", logPath, err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}
	rotator := &lumberjack.Logger{Filename: logPath, MaxSize: maxSizeMB, MaxBackups: maxBackups}

	m.switchable.swap(io.MultiWriter(console, rotator))
	m.closeRotator()
	m.rotator = rotator
	return nil
}

func (m *Manager) closeRotator() {
	if m.rotator != nil {
		_ = m.rotator.Close()
		m.rotator = nil
	}
}

// StatusReporter adapts logger into a session.Reporter, the form the
// Session Handler's status-subscription callback takes (spec.md §4.F).
// Communication-layer statuses log at Warn, everything else at Info.
func StatusReporter(logger zerolog.Logger) session.Reporter {
	return func(_ context.Context, info session.StatusInfo) {
		ev := logger.Info()
		switch info.Status {
		case session.StatusDisconnectedRetrying, session.StatusDisconnected:
			ev = logger.Warn()
		}
		ev.Str("status", info.Status.String()).
			Str("reason", info.Reason.String()).
			Time("timestamp", info.Timestamp).
			Msg("connection status changed")
	}
}
