// Package worker turns replicated envelopes into scheduler commands.
package worker

import (
	"log/slog"

	"github.com/openrails-go/fleet/internal/scheduler"
)

// Submitter stages commands for the update goroutine.
type Submitter interface {
	Submit(scheduler.Command)
}

// Manager owns the envelope handlers.
type Manager struct {
	sched  Submitter
	logger *slog.Logger
}

// NewManager creates a manager submitting to sched.
func NewManager(sched Submitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sched: sched, logger: logger}
}
