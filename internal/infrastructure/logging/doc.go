// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every gateway component takes a *Logger at construction and degrades by
// logging rather than crashing the host process; the no-op fallback keeps
// that contract even when logger construction itself fails.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Delivery server started", zap.Int("port", port))
//	logger.Warn("Cache store failed", zap.Error(err))
package logging
