// Package logging builds the process loggers: slog fan-out for application
// logs and zerolog for connection and dispatcher logs.
package logging

import (
	"path/filepath"
	"strings"
	"time"
)

// SessionLogPath names the log file for one run. The multiplayer role is part
// of the name so a server and its clients can share a logs directory.
func SessionLogPath(logsDir, app, role string, started time.Time) string {
	parts := []string{app}
	if role != "" && role != "none" {
		parts = append(parts, role)
	}
	parts = append(parts, started.Format("20060102_150405"), "log")
	return filepath.Join(logsDir, strings.Join(parts, "."))
}
