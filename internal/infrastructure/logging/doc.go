// Package logging provides structured logging for Gray Logic Hub.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("hub listening", "addr", addr)
//	logger.Error("snapshot failed", "error", err)
//
// # Security
//
// Never log secrets, tokens, or device credentials. Credential values
// carried in protocol messages must not reach log fields.
package logging
