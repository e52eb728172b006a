// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Always writes into the in-memory ring buffer so /api/logs can serve
//     recent lines without tailing a file
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"supervisor": "debug",  // Per-module overrides
//			"transcode":  "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("starting", "source_id", id)
//	logger.Debug("launch args", "argv", argv)
//	logger.Warn("unexpected exit", "code", code)
//	logger.Error("launch failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("supervisor").With("source_id", id)
//	logger.Info("started")  // includes source_id in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// # Output Destinations
//
// The system automatically detects available outputs; the ring buffer
// handler is always part of the chain:
//
//	Journal available + stdout available → MultiHandler (stdout, journal, buffer)
//	Journal available only              → MultiHandler (journal, buffer)
//	Stdout available only               → MultiHandler (stdout, buffer)
//	Neither                             → BufferHandler alone
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t captured              # all captured logs
//	journalctl -t captured -f           # follow live
//	journalctl -t captured --since "5m" # last 5 minutes
//	journalctl -t captured -p err       # errors only
//
// Filter by structured fields:
//
//	journalctl -t captured MODULE=supervisor
//	journalctl -t captured SOURCE_ID=front_door
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	supervisor = "debug"
//	transcode  = "warn"
//	server     = "warn"
package logging
